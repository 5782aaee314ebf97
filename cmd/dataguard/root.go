package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/animus-labs/dataguard/internal/governance"
	"github.com/animus-labs/dataguard/internal/sink"
	"github.com/spf13/cobra"
)

const service = "dataguard"

// errRejected signals a completed check whose answer was negative.
var errRejected = errors.New("rejected")

type rootOptions struct {
	Verbose bool
	Rules   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           service,
		Short:         "Client-side data governance: validation, risk, audit and governance logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")
	cmd.PersistentFlags().StringVar(&opts.Rules, "rules", "", "rule overlay file (overrides DATAGUARD_CATALOG_PATH)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newAssessCommand(opts))
	cmd.AddCommand(newCatalogCommand(opts))
	return cmd
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) config() (governance.Config, error) {
	cfg, err := governance.ConfigFromEnv()
	if err != nil {
		return governance.Config{}, err
	}
	if o.Rules != "" {
		cfg.CatalogPath = o.Rules
	}
	return cfg, nil
}

// offlineGuard builds a guard for one-shot commands: the record store comes
// from the environment, but logs stay in memory unless flush is set.
func (o *rootOptions) offlineGuard(ctx context.Context, cmd *cobra.Command, flush bool) (*governance.Guard, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	opts := []governance.Option{governance.WithLogger(o.logger(cmd.ErrOrStderr()))}
	if !flush {
		cfg.Sink = sink.KindMemory
	}
	return governance.New(ctx, cfg, opts...)
}

func closeGuard(cmd *cobra.Command, g *governance.Guard) {
	if err := g.Close(context.WithoutCancel(cmd.Context())); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("final flush failed", "error", err)
	}
}
