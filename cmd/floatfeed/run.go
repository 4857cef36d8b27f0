package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/internal/prefetch"
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/metrics"
	"github.com/ajitpratap0/floatfeed/pkg/observability"
	"github.com/ajitpratap0/floatfeed/pkg/performance"
)

const reportInterval = 10 * time.Second

func newRunCommand() *cobra.Command {
	var (
		batches      int
		profileDir   string
		profileTypes []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the prefetch pipeline and consume batches",
		Long: `Build the prefetch pipeline from the configuration and consume the
requested number of batches, reporting throughput and resource usage.
The consumer reduces every batch to a checksum in place of real compute.

Example:
  floatfeed run --config feed.yaml --batches 1000 --metrics-addr :9464
  floatfeed run --config feed.yaml --profile-dir ./profiles --profile cpu,trace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadFeedConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Observability.EnableMetrics = true
			}
			log, err := initLogger(cfg.Observability)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			var profiler *performance.Profiler
			if profileDir != "" {
				types, err := performance.ParseProfileTypes(profileTypes)
				if err != nil {
					return err
				}
				pc := performance.DefaultProfileConfig(profileDir)
				pc.Types = types
				profiler = performance.NewProfiler(pc, log)
				if err := profiler.Start(); err != nil {
					return err
				}
			}

			summary, err := runFeed(ctx, cfg, batches, log)
			if profiler != nil {
				if _, stopErr := profiler.Stop(); stopErr != nil {
					log.Warn("failed to write profiles", zap.Error(stopErr))
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "consumed %d batches (%d records) in %s, checksum %g\n",
				summary.Batches, summary.Records, summary.Elapsed.Round(time.Millisecond), summary.Checksum)
			return nil
		},
	}

	cmd.Flags().IntVarP(&batches, "batches", "b", 100, "Number of batches to consume")
	cmd.Flags().String("source", "", "Override data.source")
	cmd.Flags().Int("batch-size", 0, "Override transform.batch_size")
	cmd.Flags().String("mode", "", "Override transform.mode (train, eval)")
	cmd.Flags().Uint64("seed", 0, "Override transform.seed")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics on this address")
	cmd.Flags().StringVar(&profileDir, "profile-dir", "", "Write pprof profiles for the run into this directory")
	cmd.Flags().StringSliceVar(&profileTypes, "profile", []string{"cpu", "memory"},
		"Profiles to collect (cpu, memory, block, mutex, goroutine, trace)")
	return cmd
}

type runSummary struct {
	Batches  int
	Records  int
	Checksum float64
	Elapsed  time.Duration
}

// runFeed consumes n batches from the pipeline described by cfg.
func runFeed(ctx context.Context, cfg *config.FeedConfig, n int, log *zap.Logger) (runSummary, error) {
	var summary runSummary

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(cfg.Name, registry)

	if cfg.Observability.EnableMetrics {
		srv := &http.Server{
			Addr:              cfg.Observability.MetricsAddr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", cfg.Observability.MetricsAddr))
	}

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = version
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		if err := observability.Init(tc); err != nil {
			return summary, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = observability.Shutdown(shutdownCtx)
		}()
	}

	p, err := prefetch.Open(ctx, cfg, log, collector)
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("failed to close pipeline", zap.Error(err))
		}
	}()

	monitor, err := performance.NewResourceMonitor()
	if err != nil {
		return summary, err
	}
	tracker := metrics.NewThroughputTracker(collector)

	log.Info("starting feed",
		zap.String("feed", cfg.Name),
		zap.String("source", cfg.Data.Source),
		zap.Ints("batch_shape", batchShape(p)),
		zap.Int("batches", n))
	if err := p.Start(ctx); err != nil {
		return summary, err
	}

	start := time.Now()
	lastReport := start
	for summary.Batches < n {
		b, err := p.WaitAndSwap(ctx)
		if err != nil {
			return summary, err
		}
		summary.Checksum += reduce(b)
		summary.Batches++
		summary.Records += b.Size
		tracker.Increment(int64(b.Size))

		if time.Since(lastReport) >= reportInterval {
			lastReport = time.Now()
			fields := append([]zap.Field{
				zap.Int("batches", summary.Batches),
				zap.Float64("records_per_second", tracker.GetAndReset()),
			}, monitor.Usage().Fields()...)
			log.Info("feed progress", fields...)
		}
	}
	summary.Elapsed = time.Since(start)

	fields := append([]zap.Field{
		zap.Int("batches", summary.Batches),
		zap.Int("records", summary.Records),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Float64("records_per_second", float64(summary.Records)/summary.Elapsed.Seconds()),
		zap.Float64("checksum", summary.Checksum),
	}, monitor.Usage().Fields()...)
	log.Info("feed completed", fields...)
	return summary, nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

func batchShape(p *prefetch.Pipeline) []int {
	s := p.BatchShape()
	return s[:]
}

// reduce stands in for the consumer's compute.
func reduce(b *prefetch.Batch) float64 {
	var sum float64
	for _, v := range b.Data {
		sum += float64(v)
	}
	return sum
}
