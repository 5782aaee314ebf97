package main

import (
	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/spf13/cobra"
)

func newCatalogCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective rule catalog as YAML",
		Long: `Catalog prints the built-in rules merged with the --rules overlay.
The output is itself a valid overlay file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			cat, err := catalog.Load(cfg.CatalogPath)
			if err != nil {
				return err
			}
			out, err := cat.Export()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
