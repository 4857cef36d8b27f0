package prefetch

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/internal/store"
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/logger"
	"github.com/ajitpratap0/floatfeed/pkg/mean"
	"github.com/ajitpratap0/floatfeed/pkg/metrics"
)

// Open validates fc, loads the mean file, opens the record store and
// builds a pipeline over it. Wraparounds are counted on collector, which
// may be nil.
func Open(ctx context.Context, fc *config.FeedConfig, log *zap.Logger, collector *metrics.Collector, opts ...mean.Option) (*Pipeline, error) {
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Get()
	}
	if collector == nil {
		collector = metrics.NewCollector(fc.Name, nil)
	}

	var m *mean.Blob
	if fc.Data.MeanFile != "" {
		var err error
		m, err = mean.Load(ctx, fc.Data.MeanFile, opts...)
		if err != nil {
			return nil, err
		}
		log.Info("mean loaded",
			zap.String("uri", fc.Data.MeanFile),
			zap.Stringer("shape", m.Shape()))
	}

	storeOpts, err := store.OptionsFromConfig(fc.Data)
	if err != nil {
		return nil, err
	}
	storeOpts.Logger = log
	storeOpts.OnWrap = collector.Wrapped

	src, err := store.Open(storeOpts)
	if err != nil {
		return nil, err
	}

	p, err := New(src, Config{
		Name:      fc.Name,
		Transform: fc.Transform,
		Mean:      m,
		Logger:    log,
		Metrics:   collector,
	})
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return p, nil
}
