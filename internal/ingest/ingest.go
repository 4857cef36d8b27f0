// Package ingest loads records into a store from JSON lines and dumps
// summaries of stored records.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/internal/store"
	"github.com/ajitpratap0/floatfeed/pkg/datum"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
	"github.com/ajitpratap0/floatfeed/pkg/json"
	"github.com/ajitpratap0/floatfeed/pkg/logger"
)

// MaxLineSize bounds a single JSON line.
const MaxLineSize = 64 << 20

// Record is the JSON form of one input line. Exactly one of FloatData and
// Data must be set; Data is base64 in JSON.
type Record struct {
	Channels  int       `json:"channels"`
	Height    int       `json:"height"`
	Width     int       `json:"width"`
	Label     int32     `json:"label"`
	FloatData []float32 `json:"float_data,omitempty"`
	Data      []byte    `json:"data,omitempty"`
}

// Datum validates r and converts it.
func (r *Record) Datum() (*datum.Datum, error) {
	if r.Channels <= 0 || r.Height <= 0 || r.Width <= 0 {
		return nil, errors.Newf(errors.ErrorTypeData,
			"dimensions must be positive, got (%d,%d,%d)", r.Channels, r.Height, r.Width)
	}
	hasFloat, hasBytes := len(r.FloatData) > 0, len(r.Data) > 0
	if hasFloat == hasBytes {
		return nil, errors.New(errors.ErrorTypeData, "exactly one of float_data and data must be set")
	}

	d := &datum.Datum{
		Channels:  r.Channels,
		Height:    r.Height,
		Width:     r.Width,
		Label:     r.Label,
		FloatData: r.FloatData,
		Data:      r.Data,
	}
	n := len(r.FloatData) + len(r.Data)
	if want := d.Shape().Size(); n != want {
		return nil, errors.Newf(errors.ErrorTypeData,
			"payload has %d samples, shape %s needs %d", n, d.Shape(), want)
	}
	return d, nil
}

// Stats summarizes an ingest run.
type Stats struct {
	Records int
	Bytes   int64
	Shape   datum.Shape
}

// FromJSONLines reads records from r, one JSON object per line, and writes
// them to w under sequential zero-padded keys so store order is input
// order. Blank lines are skipped. Every record must share the first
// record's shape. w is not closed.
func FromJSONLines(ctx context.Context, r io.Reader, w store.Writer, log *zap.Logger) (Stats, error) {
	if log == nil {
		log = logger.Get()
	}
	log = log.With(zap.String("component", "ingest"))

	var (
		stats   Stats
		line    int
		encoded []byte
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return stats, errors.Wrap(err, errors.ErrorTypeData, "invalid JSON record").
				WithDetail("line", line)
		}
		d, err := rec.Datum()
		if err != nil {
			return stats, withLine(err, line)
		}
		if stats.Records == 0 {
			stats.Shape = d.Shape()
		} else if d.Shape() != stats.Shape {
			return stats, errors.Newf(errors.ErrorTypeData,
				"record shape %s differs from first record shape %s", d.Shape(), stats.Shape).
				WithDetail("line", line)
		}

		encoded = datum.AppendEncode(encoded[:0], d)
		if err := w.Put(Key(stats.Records), encoded); err != nil {
			return stats, withLine(err, line)
		}
		stats.Records++
		stats.Bytes += int64(len(encoded))

		if stats.Records%10000 == 0 {
			log.Info("ingest progress", zap.Int("records", stats.Records))
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, errors.Wrap(err, errors.ErrorTypeFile, "failed to read input").
			WithDetail("line", line+1)
	}

	log.Info("ingest complete",
		zap.Int("records", stats.Records),
		zap.Int64("bytes", stats.Bytes),
		zap.Stringer("shape", stats.Shape))
	return stats, nil
}

// Key returns the store key of the i-th record.
func Key(i int) []byte {
	return []byte(fmt.Sprintf("%08d", i))
}

func withLine(err error, line int) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.WithDetail("line", line)
	}
	return err
}

// Summary describes one stored record.
type Summary struct {
	Index    int     `json:"index"`
	Channels int     `json:"channels"`
	Height   int     `json:"height"`
	Width    int     `json:"width"`
	Label    int32   `json:"label"`
	Payload  string  `json:"payload"`
	Min      float32 `json:"min"`
	Max      float32 `json:"max"`
	Mean     float64 `json:"mean"`
}

// Dump decodes the next limit records of src and writes one Summary per
// line to out. The source wraps like any other reader, so a limit larger
// than the store repeats records.
func Dump(ctx context.Context, src store.Source, limit int, out io.Writer) (int, error) {
	if limit <= 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "limit must be positive")
	}
	lw := json.NewLineWriter(out)
	defer lw.Close()

	var (
		d       datum.Datum
		scratch []float32
	)
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return lw.Written(), err
		}
		raw, err := src.Current()
		if err != nil {
			return lw.Written(), err
		}
		if err := datum.Decode(raw, &d); err != nil {
			return lw.Written(), withIndex(err, i)
		}

		s := Summary{
			Index:    i,
			Channels: d.Channels,
			Height:   d.Height,
			Width:    d.Width,
			Label:    d.Label,
			Payload:  "bytes",
		}
		if d.HasFloatData() {
			s.Payload = "float"
		}
		if d.Encoded {
			s.Payload = "encoded"
		} else {
			samples, err := d.Samples(scratch)
			if err != nil {
				return lw.Written(), withIndex(err, i)
			}
			if !d.HasFloatData() {
				scratch = samples
			}
			s.Min, s.Max, s.Mean = sampleStats(samples)
		}

		if err := lw.Write(s); err != nil {
			return lw.Written(), errors.Wrap(err, errors.ErrorTypeFile, "failed to write summary")
		}
		if err := src.Advance(); err != nil {
			return lw.Written(), err
		}
	}
	return lw.Written(), nil
}

func withIndex(err error, i int) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.WithDetail("index", i)
	}
	return err
}

func sampleStats(samples []float32) (lo, hi float32, mean float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	var sum float64
	for _, s := range samples {
		lo = min(lo, s)
		hi = max(hi, s)
		sum += float64(s)
	}
	return lo, hi, sum / float64(len(samples))
}
