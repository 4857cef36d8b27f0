package main

import (
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/floatfeed/internal/ingest"
	"github.com/ajitpratap0/floatfeed/internal/store"
)

func newInspectCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a summary of the first records of a store",
		Long: `Decode the first records of the configured store and print one JSON
summary per line: shape, label, payload kind and sample statistics.

Example:
  floatfeed inspect --config feed.yaml --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadFeedConfig(cmd)
			if err != nil {
				return err
			}
			log, err := initLogger(cfg.Observability)
			if err != nil {
				return err
			}

			opts, err := store.OptionsFromConfig(cfg.Data)
			if err != nil {
				return err
			}
			opts.Logger = log
			src, err := store.Open(opts)
			if err != nil {
				return err
			}
			defer src.Close()

			_, err = ingest.Dump(cmd.Context(), src, limit, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of records to print")
	cmd.Flags().String("source", "", "Override data.source")
	return cmd
}
