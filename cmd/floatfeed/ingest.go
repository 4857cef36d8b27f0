package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/internal/ingest"
	"github.com/ajitpratap0/floatfeed/internal/store"
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

func newIngestCommand() *cobra.Command {
	var (
		input string
		dc    config.DataConfig
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load JSON-lines records into a new store",
		Long: `Read one JSON record per line and write it to a new store under
zero-padded sequential keys, so the store replays records in input order.

Each line holds channels, height, width, label and either float_data
(an array of numbers) or data (base64 bytes).

Example:
  floatfeed ingest --input train.jsonl --out ./train_leveldb --compression zstd`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			log, err := initLogger(config.ObservabilityConfig{LogLevel: level, LogFormat: "console"})
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			var r io.Reader = cmd.InOrStdin()
			if input != "-" {
				f, err := os.Open(input) //nolint:gosec // G304: path comes from the operator
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeFile, "failed to open input").
						WithDetail("path", input)
				}
				defer f.Close()
				r = f
			}

			stats, err := runIngest(ctx, r, dc, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d records of shape %s into %s\n", stats.Records, stats.Shape, dc.Source)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSON-lines input file, - for stdin")
	cmd.Flags().StringVarP(&dc.Source, "out", "o", "", "Path of the store to create (required)")
	cmd.Flags().StringVar((*string)(&dc.Backend), "backend", string(config.BackendLevelDB), "Store backend (leveldb, bolt)")
	cmd.Flags().StringVar(&dc.Bucket, "bucket", config.DefaultBucket, "bbolt bucket name")
	cmd.Flags().StringVar(&dc.Compression, "compression", "none", "Value compression (none, gzip, snappy, lz4, zstd, s2, deflate)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// runIngest creates the store described by dc and fills it from r.
func runIngest(ctx context.Context, r io.Reader, dc config.DataConfig, log *zap.Logger) (ingest.Stats, error) {
	if err := dc.Backend.Validate(); err != nil {
		return ingest.Stats{}, err
	}
	opts, err := store.OptionsFromConfig(dc)
	if err != nil {
		return ingest.Stats{}, err
	}
	opts.Logger = log

	w, err := store.Create(opts)
	if err != nil {
		return ingest.Stats{}, err
	}
	stats, err := ingest.FromJSONLines(ctx, r, w, log)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	return stats, err
}
