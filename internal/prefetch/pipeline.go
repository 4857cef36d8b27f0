// Package prefetch provides the prefetch pipeline: a single background
// goroutine that builds the next batch while the consumer works on the
// current one.
//
// # Basic Usage
//
//	p, err := prefetch.Open(ctx, feedConfig, logger, collector)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	for step := 0; step < steps; step++ {
//	    batch, err := p.WaitAndSwap(ctx)
//	    if err != nil {
//	        return err // fatal: configuration, store or data error
//	    }
//	    train(batch.Data, batch.Labels)
//	}
//
// # Handoff
//
// The pipeline owns two batch buffers. At any time one is being written by
// the producer and the other belongs to the consumer. WaitAndSwap waits for
// the producer to finish, launches the next fill into the buffer the
// consumer just gave back, and returns the finished one. Exactly one fill
// is ever in flight, so the producer runs at most one batch ahead.
package prefetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/internal/augment"
	"github.com/ajitpratap0/floatfeed/internal/store"
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/datum"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
	"github.com/ajitpratap0/floatfeed/pkg/logger"
	"github.com/ajitpratap0/floatfeed/pkg/mean"
	"github.com/ajitpratap0/floatfeed/pkg/metrics"
	"github.com/ajitpratap0/floatfeed/pkg/observability"
)

// State is the lifecycle state of a Pipeline.
type State int

const (
	// StateIdle is a constructed pipeline that has not been started
	StateIdle State = iota
	// StateRunning has a producer goroutine and at most one fill in flight
	StateRunning
	// StateFailed is terminal: a fill cycle hit a fatal error
	StateFailed
	// StateClosed is terminal: the producer has exited and the source is closed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer is notified at fill cycle boundaries on the producer goroutine.
// Implementations must not retain or modify the batch.
type Observer interface {
	CycleStarted(cycle uint64, b *Batch)
	CycleFinished(cycle uint64, b *Batch, err error)
}

// Config configures a Pipeline.
type Config struct {
	// Name identifies the feed in logs, metrics and spans
	Name      string
	Transform config.TransformConfig
	// Mean is the per-element mean; nil means zero
	Mean *mean.Blob
	// Logger defaults to the global logger
	Logger *zap.Logger
	// Metrics defaults to an unregistered collector
	Metrics *metrics.Collector
	// Observer is optional
	Observer Observer
}

type fillResult struct {
	batch *Batch
	err   error
}

// Pipeline is a single-producer, single-consumer prefetcher.
type Pipeline struct {
	name      string
	src       store.Source
	aug       *augment.Augmenter
	batchSize int
	labels    bool
	needsRand bool
	seed      uint64
	logger    *zap.Logger
	metrics   *metrics.Collector
	observer  Observer

	// owned by the producer goroutine
	rng    *augment.Rand
	datum  datum.Datum
	cycles uint64

	start chan *Batch
	ready chan fillResult
	wg    sync.WaitGroup

	// mu serializes consumer calls
	mu       sync.Mutex
	state    State
	err      error
	spare    *Batch // buffer to fill next
	inFlight bool
}

// New builds a pipeline over src. The record shape is discovered from the
// record under the cursor, without advancing it, and every later record
// must match it. On success the pipeline owns src; on failure the caller
// keeps it.
func New(src store.Source, cfg Config) (*Pipeline, error) {
	if err := cfg.Transform.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	log = log.With(zap.String("component", "prefetch"), zap.String("feed", cfg.Name))

	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector(cfg.Name, nil)
	}

	raw, err := src.Current()
	if err != nil {
		return nil, err
	}
	var first datum.Datum
	if err := datum.Decode(raw, &first); err != nil {
		return nil, err
	}
	if cfg.Transform.CropSize > 0 && !first.HasFloatData() {
		return nil, errors.New(errors.ErrorTypeConfig,
			"cropping requires records with float_data")
	}

	aug, err := augment.New(first.Shape(), cfg.Transform, cfg.Mean)
	if err != nil {
		return nil, err
	}

	item := aug.OutputShape()
	p := &Pipeline{
		name:      cfg.Name,
		src:       src,
		aug:       aug,
		batchSize: cfg.Transform.BatchSize,
		labels:    cfg.Transform.OutputLabels,
		needsRand: cfg.Transform.NeedsRandom(),
		seed:      cfg.Transform.Seed,
		logger:    log,
		metrics:   collector,
		observer:  cfg.Observer,
		start:     make(chan *Batch, 1),
		ready:     make(chan fillResult, 1),
		spare:     newBatch(cfg.Transform.BatchSize, item, cfg.Transform.OutputLabels),
	}
	// the second buffer is handed out by the first WaitAndSwap
	p.logger.Info("pipeline created",
		zap.Stringer("record_shape", first.Shape()),
		zap.Ints("batch_shape", shapeInts(p.spare.Shape())),
		zap.Int("crop_size", cfg.Transform.CropSize),
		zap.Bool("mirror", cfg.Transform.Mirror),
		zap.String("mode", string(cfg.Transform.Mode)),
		zap.Bool("output_labels", cfg.Transform.OutputLabels))
	return p, nil
}

func shapeInts(s [4]int) []int {
	return s[:]
}

// Start launches the producer goroutine and the first fill cycle. ctx only
// parents the fill spans; cancelling it does not stop the producer.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return errors.Newf(errors.ErrorTypeValidation, "cannot start a %s pipeline", p.state)
	}

	if p.needsRand {
		seed := p.seed
		if seed == 0 {
			seed = augment.RandomSeed()
		}
		p.rng = augment.NewRand(seed)
		p.logger.Info("augmentation random stream created", zap.Uint64("seed", seed))
	}

	p.state = StateRunning
	p.wg.Add(1)
	go p.produce(context.WithoutCancel(ctx))

	p.launch(p.spare)
	p.spare = newBatch(p.batchSize, p.aug.OutputShape(), p.labels)
	return nil
}

func (p *Pipeline) launch(b *Batch) {
	p.inFlight = true
	p.start <- b
}

func (p *Pipeline) produce(ctx context.Context) {
	defer p.wg.Done()
	for b := range p.start {
		err := p.fill(ctx, b)
		p.ready <- fillResult{batch: b, err: err}
	}
}

// WaitAndSwap blocks until the in-flight fill completes, starts the next
// fill, and returns the finished batch. The batch stays valid until the
// next WaitAndSwap. If ctx ends first the fill keeps running and ctx.Err()
// is returned; a later call picks the batch up. After a fatal fill error
// the pipeline is failed and every call returns that error.
func (p *Pipeline) WaitAndSwap(ctx context.Context) (*Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateIdle:
		return nil, errors.New(errors.ErrorTypeValidation, "pipeline not started")
	case StateClosed:
		return nil, errors.New(errors.ErrorTypeClosed, "pipeline is closed")
	case StateFailed:
		return nil, p.err
	}

	waitStart := time.Now()
	var res fillResult
	select {
	case res = <-p.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.inFlight = false
	p.metrics.Waited(time.Since(waitStart))

	if res.err != nil {
		p.state = StateFailed
		p.err = res.err
		p.spare = res.batch
		p.logger.Error("prefetch failed", zap.Error(res.err))
		return nil, res.err
	}

	next := p.spare
	p.spare = res.batch
	p.launch(next)
	return res.batch, nil
}

// Close waits for the in-flight fill, stops the producer and closes the
// record source. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateClosed:
		return nil
	case StateIdle:
		p.state = StateClosed
		return p.src.Close()
	}

	if p.inFlight {
		res := <-p.ready
		p.inFlight = false
		if res.err != nil && p.err == nil {
			p.logger.Warn("fill in flight at close failed", zap.Error(res.err))
		}
	}
	close(p.start)
	p.wg.Wait()

	p.state = StateClosed
	p.logger.Info("pipeline closed", zap.Any("metrics", p.metrics.GetAll()))
	return p.src.Close()
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// BatchShape returns (batch, channels, height, width) of produced batches.
func (p *Pipeline) BatchShape() [4]int {
	item := p.aug.OutputShape()
	return [4]int{p.batchSize, item.Channels, item.Height, item.Width}
}

// fill runs one cycle: for each item read, decode, augment, label, advance.
func (p *Pipeline) fill(ctx context.Context, b *Batch) error {
	cycle := p.cycles
	p.cycles++

	if p.observer != nil {
		p.observer.CycleStarted(cycle, b)
	}
	err := observability.TraceFill(ctx, p.name, cycle, p.batchSize, func(context.Context) error {
		return p.fillItems(cycle, b)
	})
	if p.observer != nil {
		p.observer.CycleFinished(cycle, b, err)
	}
	return err
}

func (p *Pipeline) fillItems(cycle uint64, b *Batch) error {
	timer := metrics.NewTimer("fill")
	mirrored := 0

	for item := 0; item < p.batchSize; item++ {
		raw, err := p.src.Current()
		if err != nil {
			return annotate(err, cycle, item)
		}
		if err := datum.Decode(raw, &p.datum); err != nil {
			return annotate(err, cycle, item)
		}
		m, err := p.aug.Augment(&p.datum, b.Item(item), p.rng)
		if err != nil {
			return annotate(err, cycle, item)
		}
		if m {
			mirrored++
		}
		if b.Labels != nil {
			b.Labels[item] = float32(p.datum.Label)
		}
		if err := p.src.Advance(); err != nil {
			return annotate(err, cycle, item)
		}
	}
	b.Cycle = cycle

	elapsed := timer.Stop()
	p.metrics.BatchFilled(p.batchSize, mirrored, elapsed)
	p.logger.Debug("batch filled",
		zap.Uint64("cycle", cycle),
		zap.Int("mirrored", mirrored),
		zap.Duration("elapsed", elapsed))
	return nil
}

func annotate(err error, cycle uint64, item int) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.WithDetail("cycle", cycle).WithDetail("item", item)
	}
	return errors.Wrap(err, errors.ErrorTypeInternal, "fill cycle failed").
		WithDetail("cycle", cycle).
		WithDetail("item", item)
}
