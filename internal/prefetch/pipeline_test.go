package prefetch_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/floatfeed/internal/prefetch"
	"github.com/ajitpratap0/floatfeed/internal/store"
	"github.com/ajitpratap0/floatfeed/internal/testutil"
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/datum"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
	"github.com/ajitpratap0/floatfeed/pkg/mean"
	"github.com/ajitpratap0/floatfeed/pkg/metrics"
)

var recordShape = datum.Shape{Channels: 1, Height: 4, Width: 4}

// centerPatch is the 2x2 center crop of ramp record k.
func centerPatch(k int) []float32 {
	base := float32(k * 100)
	return []float32{base + 5, base + 6, base + 9, base + 10}
}

func evalCrop(batch int) config.TransformConfig {
	return config.TransformConfig{
		BatchSize:    batch,
		CropSize:     2,
		Scale:        1,
		Mode:         config.ModeEval,
		OutputLabels: true,
	}
}

// trackingSource wraps a Source, counts Close calls and optionally
// delays or gates every Current.
type trackingSource struct {
	store.Source
	delay  time.Duration
	gate   chan struct{}
	closed atomic.Int32
}

func (s *trackingSource) Current() ([]byte, error) {
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.Source.Current()
}

func (s *trackingSource) Close() error {
	s.closed.Add(1)
	return s.Source.Close()
}

func memorySource(t *testing.T, records [][]byte) *trackingSource {
	t.Helper()
	src, err := store.NewMemory(records, store.Options{Logger: testutil.TestLogger(t)})
	require.NoError(t, err)
	return &trackingSource{Source: src}
}

// cycleObserver records which batch the producer is writing.
type cycleObserver struct {
	writing  atomic.Pointer[prefetch.Batch]
	started  atomic.Int32
	finished atomic.Int32
}

func (o *cycleObserver) CycleStarted(_ uint64, b *prefetch.Batch) {
	o.started.Add(1)
	o.writing.Store(b)
}

func (o *cycleObserver) CycleFinished(_ uint64, _ *prefetch.Batch, _ error) {
	o.writing.Store(nil)
	o.finished.Add(1)
}

func newPipeline(t *testing.T, src store.Source, tc config.TransformConfig, obs prefetch.Observer) *prefetch.Pipeline {
	t.Helper()
	p, err := prefetch.New(src, prefetch.Config{
		Name:      "test",
		Transform: tc,
		Logger:    testutil.TestLogger(t),
		Observer:  obs,
	})
	require.NoError(t, err)
	return p
}

func TestEvalCenterCropWrapsAround(t *testing.T) {
	for _, backend := range []config.Backend{config.BackendLevelDB, config.BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			ctx, cancel := testutil.TestContext(t)
			defer cancel()

			fc := config.NewFeedConfig("scenario")
			fc.Data.Backend = backend
			fc.Data.Source = filepath.Join(t.TempDir(), "db")
			fc.Transform = evalCrop(3)

			opts, err := store.OptionsFromConfig(fc.Data)
			require.NoError(t, err)
			w, err := store.Create(opts)
			require.NoError(t, err)
			testutil.WriteRecords(t, w, testutil.RampRecords(recordShape, 3))

			collector := metrics.NewCollector("scenario", nil)
			p, err := prefetch.Open(ctx, fc, testutil.TestLogger(t), collector)
			require.NoError(t, err)
			assert.Equal(t, [4]int{3, 1, 2, 2}, p.BatchShape())
			require.NoError(t, p.Start(ctx))

			for cycle := 0; cycle < 2; cycle++ {
				b, err := p.WaitAndSwap(ctx)
				require.NoError(t, err)
				assert.Equal(t, uint64(cycle), b.Cycle)
				assert.Equal(t, [4]int{3, 1, 2, 2}, b.Shape())
				for k := 0; k < 3; k++ {
					assert.Equal(t, centerPatch(k), b.Item(k), "cycle %d item %d", cycle, k)
				}
				assert.Equal(t, []float32{0, 1, 2}, b.Labels)
			}

			require.NoError(t, p.Close())
			all := collector.GetAll()
			// the third cycle was in flight at Close and ran to completion
			assert.Equal(t, int64(3), all["batches"])
			assert.Equal(t, int64(3), all["wraparounds"])
			assert.Equal(t, int64(9), all["records"])
		})
	}
}

func TestBatchSpansWraparound(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p := newPipeline(t, memorySource(t, testutil.RampRecords(recordShape, 3)), evalCrop(2), nil)
	defer p.Close()
	require.NoError(t, p.Start(ctx))

	want := [][]int{{0, 1}, {2, 0}, {1, 2}}
	for i, records := range want {
		b, err := p.WaitAndSwap(ctx)
		require.NoError(t, err)
		for item, k := range records {
			assert.Equal(t, centerPatch(k), b.Item(item), "batch %d item %d", i, item)
			assert.Equal(t, float32(k), b.Labels[item])
		}
	}
}

func TestLabelsDisabled(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	tc := evalCrop(2)
	tc.OutputLabels = false
	p := newPipeline(t, memorySource(t, testutil.RampRecords(recordShape, 2)), tc, nil)
	defer p.Close()
	require.NoError(t, p.Start(ctx))

	b, err := p.WaitAndSwap(ctx)
	require.NoError(t, err)
	assert.Nil(t, b.Labels)
	assert.Len(t, b.Data, 8)
}

func TestMeanAndScaleFromConfig(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	dir := t.TempDir()
	fc := config.NewFeedConfig("mean")
	fc.Data.Source = filepath.Join(dir, "db")
	fc.Data.Compression = "snappy"
	fc.Data.MeanFile = filepath.Join(dir, "mean.binaryproto")
	fc.Transform = config.TransformConfig{BatchSize: 1, Scale: 0.5, Mode: config.ModeEval}

	m := mean.Zero(recordShape)
	for i := range m.Data {
		m.Data[i] = 1
	}
	require.NoError(t, mean.Save(fc.Data.MeanFile, m))

	opts, err := store.OptionsFromConfig(fc.Data)
	require.NoError(t, err)
	w, err := store.Create(opts)
	require.NoError(t, err)
	testutil.WriteRecords(t, w, testutil.RampRecords(recordShape, 1))

	p, err := prefetch.Open(ctx, fc, testutil.TestLogger(t), nil)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Start(ctx))

	b, err := p.WaitAndSwap(ctx)
	require.NoError(t, err)
	require.Len(t, b.Data, 16)
	for i, v := range b.Data {
		assert.Equal(t, (float32(i)-1)*0.5, v, "element %d", i)
	}
}

func trainBatches(t *testing.T, seed uint64, n int) [][]float32 {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	tc := config.TransformConfig{
		BatchSize: 3,
		CropSize:  2,
		Mirror:    true,
		Scale:     1,
		Mode:      config.ModeTrain,
		Seed:      seed,
	}
	p := newPipeline(t, memorySource(t, testutil.RampRecords(recordShape, 5)), tc, nil)
	defer p.Close()
	require.NoError(t, p.Start(ctx))

	out := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		b, err := p.WaitAndSwap(ctx)
		require.NoError(t, err)
		out = append(out, append([]float32(nil), b.Data...))
	}
	return out
}

func TestTrainSameSeedReproduces(t *testing.T) {
	first := trainBatches(t, 42, 6)
	second := trainBatches(t, 42, 6)
	assert.Equal(t, first, second)

	other := trainBatches(t, 43, 6)
	assert.NotEqual(t, first, other)
}

func TestReturnedBatchIsNeverWritten(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src := memorySource(t, testutil.RampRecords(recordShape, 7))
	src.delay = 200 * time.Microsecond
	obs := &cycleObserver{}
	p := newPipeline(t, src, evalCrop(4), obs)
	defer p.Close()
	require.NoError(t, p.Start(ctx))

	next := 0
	for cycle := 0; cycle < 10; cycle++ {
		b, err := p.WaitAndSwap(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(cycle), b.Cycle)
		assert.NotSame(t, b, obs.writing.Load(), "producer is writing the consumer's batch")

		snapshot := append([]float32(nil), b.Data...)
		// let the producer work on the next batch meanwhile
		time.Sleep(time.Millisecond)
		assert.Equal(t, snapshot, b.Data, "batch %d changed while held", cycle)

		for item := 0; item < b.Size; item++ {
			assert.Equal(t, centerPatch(next%7), b.Item(item), "cycle %d item %d", cycle, item)
			next++
		}
	}
}

func TestWaitAbortedByContext(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src := memorySource(t, testutil.RampRecords(recordShape, 2))
	p := newPipeline(t, src, evalCrop(2), nil)
	defer p.Close()
	src.gate = make(chan struct{})
	require.NoError(t, p.Start(ctx))

	short, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelShort()
	_, err := p.WaitAndSwap(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, prefetch.StateRunning, p.State())

	close(src.gate)
	b, err := p.WaitAndSwap(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), b.Cycle)
	assert.Equal(t, centerPatch(0), b.Item(0))
}

func TestCloseJoinsInFlightCycle(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src := memorySource(t, testutil.RampRecords(recordShape, 3))
	src.delay = 5 * time.Millisecond
	obs := &cycleObserver{}
	p := newPipeline(t, src, evalCrop(3), obs)
	require.NoError(t, p.Start(ctx))

	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), obs.started.Load())
	assert.Equal(t, int32(1), obs.finished.Load())
	assert.Equal(t, int32(1), src.closed.Load())
	assert.Equal(t, prefetch.StateClosed, p.State())

	// idempotent
	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), src.closed.Load())

	_, err := p.WaitAndSwap(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))
}

func TestCloseBeforeStart(t *testing.T) {
	src := memorySource(t, testutil.RampRecords(recordShape, 1))
	p := newPipeline(t, src, evalCrop(1), nil)

	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), src.closed.Load())
	assert.True(t, errors.IsType(p.Start(context.Background()), errors.ErrorTypeValidation))
}

func TestLifecycleMisuse(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p := newPipeline(t, memorySource(t, testutil.RampRecords(recordShape, 1)), evalCrop(1), nil)
	defer p.Close()

	_, err := p.WaitAndSwap(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, prefetch.StateIdle, p.State())

	require.NoError(t, p.Start(ctx))
	assert.True(t, errors.IsType(p.Start(ctx), errors.ErrorTypeValidation))
}

func TestFailureIsSticky(t *testing.T) {
	tests := []struct {
		name    string
		corrupt []byte
	}{
		{"undecodable record", []byte{0xff}},
		{"shape mismatch", datum.Encode(testutil.RampDatum(datum.Shape{Channels: 1, Height: 5, Width: 5}, 0, 9))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := testutil.TestContext(t)
			defer cancel()

			records := testutil.RampRecords(recordShape, 4)
			records[2] = tt.corrupt
			obs := &cycleObserver{}
			p := newPipeline(t, memorySource(t, records), evalCrop(2), obs)
			require.NoError(t, p.Start(ctx))

			b, err := p.WaitAndSwap(ctx)
			require.NoError(t, err)
			assert.Equal(t, centerPatch(1), b.Item(1))

			_, err = p.WaitAndSwap(ctx)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData), "got %v", err)
			assert.Equal(t, prefetch.StateFailed, p.State())

			_, again := p.WaitAndSwap(ctx)
			assert.Same(t, err, again)

			require.NoError(t, p.Close())
			// no cycle was launched after the failure
			assert.Equal(t, int32(2), obs.started.Load())
		})
	}
}

func TestNewRejects(t *testing.T) {
	byteRecord := datum.Encode(&datum.Datum{Channels: 1, Height: 4, Width: 4, Data: make([]byte, 16)})

	tests := []struct {
		name    string
		records [][]byte
		tc      config.TransformConfig
		errType errors.ErrorType
	}{
		{"crop larger than record", testutil.RampRecords(recordShape, 1), config.TransformConfig{
			BatchSize: 1, CropSize: 5, Scale: 1, Mode: config.ModeEval}, errors.ErrorTypeConfig},
		{"train crop equal to record", testutil.RampRecords(recordShape, 1), config.TransformConfig{
			BatchSize: 1, CropSize: 4, Scale: 1, Mode: config.ModeTrain}, errors.ErrorTypeConfig},
		{"crop over byte records", [][]byte{byteRecord}, evalCrop(1), errors.ErrorTypeConfig},
		{"mirror without crop", testutil.RampRecords(recordShape, 1), config.TransformConfig{
			BatchSize: 1, Mirror: true, Scale: 1, Mode: config.ModeTrain}, errors.ErrorTypeConfig},
		{"undecodable first record", [][]byte{{0xff}}, evalCrop(1), errors.ErrorTypeData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := memorySource(t, tt.records)
			_, err := prefetch.New(src, prefetch.Config{Transform: tt.tc, Logger: testutil.TestLogger(t)})
			require.Error(t, err)
			assert.Equal(t, tt.errType, errors.TypeOf(err), "got %v", err)
			assert.Equal(t, int32(0), src.closed.Load())
		})
	}
}

func TestFillCyclesAreTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p := newPipeline(t, memorySource(t, testutil.RampRecords(recordShape, 2)), evalCrop(2), nil)
	require.NoError(t, p.Start(ctx))
	_, err := p.WaitAndSwap(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	spans := rec.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "prefetch.fill", s.Name())
	}
}
