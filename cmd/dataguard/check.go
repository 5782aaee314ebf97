package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/animus-labs/dataguard/internal/risk"
	"github.com/animus-labs/dataguard/internal/validation"
	"github.com/spf13/cobra"
)

type validateOptions struct {
	Entity string
	Op     string
	Filter string
	Input  string
	Flush  bool
}

func newValidateCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate records before an insert or update",
		Long: `Validate reads a JSON object or an array of objects from --input
(or stdin) and prints the verdict. The command exits 1 when the verdict
is invalid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "entity type (required)")
	cmd.Flags().StringVar(&opts.Op, "op", "insert", "operation: insert or update")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "update filter as a JSON object")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "records file, - for stdin")
	cmd.Flags().BoolVar(&opts.Flush, "flush", false, "write governance logs to the configured sink")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *rootOptions, opts *validateOptions) error {
	raw, err := readInput(cmd, opts.Input)
	if err != nil {
		return err
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return err
	}

	op := strings.ToLower(strings.TrimSpace(opts.Op))
	var filter map[string]any
	switch op {
	case "insert":
	case "update":
		if len(records) != 1 {
			return fmt.Errorf("update validates exactly one record, got %d", len(records))
		}
		if opts.Filter != "" {
			if err := decodeStrict([]byte(opts.Filter), &filter); err != nil {
				return fmt.Errorf("filter: %w", err)
			}
		}
	default:
		return fmt.Errorf("unsupported operation %q", opts.Op)
	}

	ctx := cmd.Context()
	guard, err := rootOpts.offlineGuard(ctx, cmd, opts.Flush)
	if err != nil {
		return err
	}
	defer closeGuard(cmd, guard)

	var verdict validation.Verdict
	if op == "update" {
		verdict = guard.ValidateBeforeUpdate(ctx, opts.Entity, records[0], filter)
	} else {
		verdict = guard.ValidateBeforeInsert(ctx, opts.Entity, records...)
	}
	if err := writeJSON(cmd.OutOrStdout(), verdict); err != nil {
		return err
	}
	if !verdict.Valid {
		return errRejected
	}
	return nil
}

type assessOptions struct {
	Kind    string
	Entity  string
	Payload []string
	Filter  []string
	Strict  bool
}

func newAssessCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &assessOptions{}

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Predict failures for an operation before running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssess(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "", "INSERT, UPDATE, DELETE or SELECT (required)")
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "entity type (required)")
	cmd.Flags().StringSliceVar(&opts.Payload, "payload", nil, "fields written by the operation")
	cmd.Flags().StringSliceVar(&opts.Filter, "filter", nil, "fields the operation filters on")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when any HIGH or CRITICAL warning is predicted")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func runAssess(cmd *cobra.Command, rootOpts *rootOptions, opts *assessOptions) error {
	kind, ok := risk.ParseKind(opts.Kind)
	if !ok {
		return fmt.Errorf("unsupported kind %q", opts.Kind)
	}

	ctx := cmd.Context()
	guard, err := rootOpts.offlineGuard(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeGuard(cmd, guard)

	warnings := guard.AssessOperation(risk.OperationDescriptor{
		Kind:          kind,
		EntityType:    strings.TrimSpace(opts.Entity),
		PayloadFields: opts.Payload,
		FilterFields:  opts.Filter,
	})
	if warnings == nil {
		warnings = []risk.Warning{}
	}
	if err := writeJSON(cmd.OutOrStdout(), map[string]any{"warnings": warnings}); err != nil {
		return err
	}
	if opts.Strict {
		for _, w := range warnings {
			if w.Level == risk.LevelHigh || w.Level == risk.LevelCritical {
				return errRejected
			}
		}
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func decodeRecords(raw []byte) ([]map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("no records on input")
	}
	if raw[0] == '[' {
		var records []map[string]any
		if err := decodeStrict(raw, &records); err != nil {
			return nil, fmt.Errorf("records: %w", err)
		}
		return records, nil
	}
	var record map[string]any
	if err := decodeStrict(raw, &record); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return []map[string]any{record}, nil
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
