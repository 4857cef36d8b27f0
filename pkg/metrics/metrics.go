// Package metrics provides Prometheus instrumentation for prefetch pipelines.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector("imagenet-train", reg)
//
//	// the pipeline reports each cycle and each consumer wait
//	collector.BatchFilled(256, mirrored, fillDuration)
//	collector.Waited(waitDuration)
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// All series carry a constant "feed" label with the collector name, so
// several pipelines can share one registry.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "floatfeed"

// Collector records pipeline activity. It is safe for concurrent use: the
// producer goroutine reports fills and wraps, the consumer reports waits.
type Collector struct {
	name        string
	batches     prometheus.Counter
	records     prometheus.Counter
	wraparounds prometheus.Counter
	mirrored    prometheus.Counter
	fillSeconds prometheus.Histogram
	waitSeconds prometheus.Histogram
	throughput  prometheus.Gauge
	startTime   time.Time

	nBatches  atomic.Int64
	nRecords  atomic.Int64
	nWraps    atomic.Int64
	nMirrored atomic.Int64
}

// NewCollector creates a collector for the named feed and registers its
// series on reg. A nil reg leaves the series unregistered.
func NewCollector(name string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	labels := prometheus.Labels{"feed": name}

	return &Collector{
		name: name,
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_total", ConstLabels: labels,
			Help: "Total number of batches produced by the prefetch goroutine",
		}),
		records: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_total", ConstLabels: labels,
			Help: "Total number of records decoded and augmented",
		}),
		wraparounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "wraparounds_total", ConstLabels: labels,
			Help: "Number of times the record source restarted from the first record",
		}),
		mirrored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "mirrored_total", ConstLabels: labels,
			Help: "Number of items flipped horizontally",
		}),
		fillSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "fill_seconds", ConstLabels: labels,
			Help:    "Time to fill one batch",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9), // 0.5ms .. ~33s
		}),
		waitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "wait_seconds", ConstLabels: labels,
			Help:    "Time the consumer blocked waiting for a batch",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 9),
		}),
		throughput: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "throughput_records_per_second", ConstLabels: labels,
			Help: "Records delivered per second over the last reporting window",
		}),
		startTime: time.Now(),
	}
}

// BatchFilled records one completed fill cycle.
func (c *Collector) BatchFilled(items, mirrored int, d time.Duration) {
	c.batches.Inc()
	c.records.Add(float64(items))
	c.mirrored.Add(float64(mirrored))
	c.fillSeconds.Observe(d.Seconds())

	c.nBatches.Add(1)
	c.nRecords.Add(int64(items))
	c.nMirrored.Add(int64(mirrored))
}

// Waited records how long the consumer blocked for a batch.
func (c *Collector) Waited(d time.Duration) {
	c.waitSeconds.Observe(d.Seconds())
}

// Wrapped records a record source wraparound.
func (c *Collector) Wrapped() {
	c.wraparounds.Inc()
	c.nWraps.Add(1)
}

// GetAll returns all current metric values
func (c *Collector) GetAll() map[string]interface{} {
	return map[string]interface{}{
		"feed":        c.name,
		"batches":     c.nBatches.Load(),
		"records":     c.nRecords.Load(),
		"wraparounds": c.nWraps.Load(),
		"mirrored":    c.nMirrored.Load(),
		"start_time":  c.startTime,
		"uptime":      time.Since(c.startTime).Seconds(),
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. It may be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second over reporting windows and
// publishes the last window's rate on the collector's gauge.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	gauge     prometheus.Gauge
}

// NewThroughputTracker creates a tracker reporting to c.
func NewThroughputTracker(c *Collector) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		gauge:     c.throughput,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the throughput since the last reset, publishes it,
// and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()
	t.gauge.Set(throughput)

	return throughput
}
