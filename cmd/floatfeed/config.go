package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
	"github.com/ajitpratap0/floatfeed/pkg/logger"
)

const envPrefix = "FLOATFEED"

// overridableKeys are the settings FLOATFEED_* variables may override,
// e.g. transform.batch_size from FLOATFEED_TRANSFORM_BATCH_SIZE.
var overridableKeys = []string{
	"name",
	"data.source",
	"data.backend",
	"data.bucket",
	"data.compression",
	"data.mean_file",
	"transform.batch_size",
	"transform.crop_size",
	"transform.mirror",
	"transform.scale",
	"transform.mode",
	"transform.output_labels",
	"transform.seed",
	"observability.log_level",
	"observability.log_format",
	"observability.log_file",
	"observability.enable_metrics",
	"observability.metrics_addr",
	"observability.enable_tracing",
	"observability.tracing_sample_rate",
}

// flagKeys maps command flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":    "observability.log_level",
	"source":       "data.source",
	"batch-size":   "transform.batch_size",
	"mode":         "transform.mode",
	"seed":         "transform.seed",
	"metrics-addr": "observability.metrics_addr",
}

// loadFeedConfig builds the feed configuration for cmd: defaults, then the
// --config file, then FLOATFEED_* environment variables, then flags the
// user set explicitly.
func loadFeedConfig(cmd *cobra.Command) (*config.FeedConfig, error) {
	cfg := config.NewFeedConfig("floatfeed")

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overridableKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind environment").
				WithDetail("key", key)
		}
	}
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flag").
				WithDetail("flag", name)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to apply overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger installs the global logger described by obs.
func initLogger(obs config.ObservabilityConfig) (*zap.Logger, error) {
	if err := logger.Init(logger.Config{
		Level:       obs.LogLevel,
		Encoding:    obs.LogFormat,
		OutputPaths: []string{"stderr"},
		File:        logger.FileConfig{Path: obs.LogFile},
	}); err != nil {
		return nil, err
	}
	return logger.With(zap.String("component", "floatfeed-cli")), nil
}
