// Package config provides the configuration system for floatfeed.
// A single FeedConfig describes where records come from, how batches are
// built from them, and how the process reports on itself.
//
// The configuration is organized into logical sections:
//   - Data: Store location, backend, value compression, mean file
//   - Transform: Batch size, crop, mirror, scale, mode, labels, seed
//   - Observability: Logging, metrics, tracing
//
// Example usage:
//
//	cfg := config.NewFeedConfig("imagenet-train")
//	cfg.Data.Source = "/data/train_leveldb"
//	cfg.Transform.CropSize = 227
//	cfg.Transform.Mirror = true
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"math"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

// Backend selects the ordered key-value engine records are read from
type Backend string

const (
	// BackendLevelDB reads records through a LevelDB iterator
	BackendLevelDB Backend = "leveldb"
	// BackendBolt reads records through a bbolt bucket cursor
	BackendBolt Backend = "bolt"
)

// Mode selects training or evaluation behavior of the transform
type Mode string

const (
	// ModeTrain enables random crop offsets and random mirroring
	ModeTrain Mode = "train"
	// ModeEval uses center crops and never mirrors
	ModeEval Mode = "eval"
)

// DefaultBucket is the bbolt bucket records are stored in
const DefaultBucket = "records"

// FeedConfig is the complete configuration of one prefetch pipeline.
type FeedConfig struct {
	// Name identifies the feed in logs and metrics
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	// Data settings locate and decode the record store
	Data DataConfig `yaml:"data" json:"data" mapstructure:"data"`

	// Transform settings control batch construction
	Transform TransformConfig `yaml:"transform" json:"transform" mapstructure:"transform"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// DataConfig locates the dataset.
type DataConfig struct {
	// Source is the path of the store directory (leveldb) or file (bolt)
	Source string `yaml:"source" json:"source" mapstructure:"source"`
	// Backend names the store engine
	Backend Backend `yaml:"backend" json:"backend" mapstructure:"backend"`
	// Bucket is the bbolt bucket holding records (bolt only)
	Bucket string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	// Compression is the codec applied to stored values (none, gzip, snappy, lz4, zstd, s2)
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
	// MeanFile is a local path or s3://bucket/key of a mean blob; empty means zero mean
	MeanFile string `yaml:"mean_file" json:"mean_file" mapstructure:"mean_file"`
}

// TransformConfig controls how each record becomes a batch item.
type TransformConfig struct {
	// BatchSize is the number of items per batch
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	// CropSize is the square crop edge; 0 disables cropping
	CropSize int `yaml:"crop_size" json:"crop_size" mapstructure:"crop_size"`
	// Mirror enables random horizontal flips (requires CropSize > 0)
	Mirror bool `yaml:"mirror" json:"mirror" mapstructure:"mirror"`
	// Scale multiplies every mean-subtracted value
	Scale float64 `yaml:"scale" json:"scale" mapstructure:"scale"`
	// Mode is train or eval
	Mode Mode `yaml:"mode" json:"mode" mapstructure:"mode"`
	// OutputLabels emits a label per item alongside the data
	OutputLabels bool `yaml:"output_labels" json:"output_labels" mapstructure:"output_labels"`
	// Seed seeds the augmentation generator; 0 draws one at start
	Seed uint64 `yaml:"seed" json:"seed" mapstructure:"seed"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// LogFormat is json or console
	LogFormat string `yaml:"log_format" json:"log_format" mapstructure:"log_format"`
	// LogFile enables a rotating log file in addition to stdout
	LogFile string `yaml:"log_file" json:"log_file" mapstructure:"log_file"`
	// EnableMetrics activates prometheus collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	// MetricsAddr is the listen address of the /metrics endpoint
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing activates fill-cycle spans
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
}

// NewFeedConfig creates a FeedConfig with defaults matching the classic
// float data layer: leveldb backend, batch of 64, no crop, scale 1, train mode.
func NewFeedConfig(name string) *FeedConfig {
	return &FeedConfig{
		Name: name,
		Data: DataConfig{
			Backend:     BackendLevelDB,
			Bucket:      DefaultBucket,
			Compression: "none",
		},
		Transform: TransformConfig{
			BatchSize:    64,
			CropSize:     0,
			Mirror:       false,
			Scale:        1.0,
			Mode:         ModeTrain,
			OutputLabels: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			EnableMetrics:     false,
			MetricsAddr:       ":9464",
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and the transform combinations the pipeline
// cannot honor. Shape-dependent checks (crop against record size) happen
// when the pipeline sees its first record.
func (fc *FeedConfig) Validate() error {
	if fc.Data.Source == "" {
		return errors.New(errors.ErrorTypeConfig, "data.source is required")
	}
	if err := fc.Data.Backend.Validate(); err != nil {
		return err
	}
	if fc.Data.Backend == BackendBolt && fc.Data.Bucket == "" {
		return errors.New(errors.ErrorTypeConfig, "data.bucket is required for the bolt backend")
	}
	switch fc.Data.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd", "s2", "deflate":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported compression %q", fc.Data.Compression)
	}
	if err := fc.Transform.Validate(); err != nil {
		return err
	}
	if r := fc.Observability.TracingSampleRate; r < 0 || r > 1 {
		return errors.New(errors.ErrorTypeConfig, "tracing_sample_rate must be within [0, 1]")
	}
	return nil
}

// Validate checks the backend selector
func (b Backend) Validate() error {
	switch b {
	case BackendLevelDB, BackendBolt:
		return nil
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown database backend %q", string(b)).
			WithDetail("supported", []Backend{BackendLevelDB, BackendBolt})
	}
}

// Validate checks the transform settings that do not depend on record shape
func (tc *TransformConfig) Validate() error {
	if tc.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "batch_size must be positive")
	}
	if tc.CropSize < 0 {
		return errors.New(errors.ErrorTypeConfig, "crop_size cannot be negative")
	}
	if tc.Mirror && tc.CropSize == 0 {
		return errors.New(errors.ErrorTypeConfig,
			"mirror requires crop_size to be set at the same time")
	}
	if math.IsNaN(tc.Scale) || math.IsInf(tc.Scale, 0) {
		return errors.New(errors.ErrorTypeConfig, "scale must be finite")
	}
	switch tc.Mode {
	case ModeTrain, ModeEval:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown mode %q", string(tc.Mode))
	}
	return nil
}

// NeedsRandom reports whether augmentation consumes random draws: only
// training with mirroring or cropping does.
func (tc *TransformConfig) NeedsRandom() bool {
	return tc.Mode == ModeTrain && (tc.Mirror || tc.CropSize > 0)
}
