// Package testutil provides testing utilities for floatfeed
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/floatfeed/pkg/datum"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// RampDatum returns a float record of the given shape whose sample i is
// base+i, labelled with label.
func RampDatum(shape datum.Shape, base float32, label int32) *datum.Datum {
	d := &datum.Datum{
		Channels:  shape.Channels,
		Height:    shape.Height,
		Width:     shape.Width,
		Label:     label,
		FloatData: make([]float32, shape.Size()),
	}
	for i := range d.FloatData {
		d.FloatData[i] = base + float32(i)
	}
	return d
}

// RampRecords encodes n ramp records; record k starts at k*100 and has label k.
func RampRecords(shape datum.Shape, n int) [][]byte {
	out := make([][]byte, n)
	for k := range out {
		out[k] = datum.Encode(RampDatum(shape, float32(k*100), int32(k)))
	}
	return out
}

// Putter is the write half of a dataset.
type Putter interface {
	Put(key, value []byte) error
	Close() error
}

// Key returns the zero-padded key of the i-th record.
func Key(i int) []byte {
	return []byte(fmt.Sprintf("%08d", i))
}

// WriteRecords writes records under sequential keys and closes w.
func WriteRecords(t *testing.T, w Putter, records [][]byte) {
	t.Helper()
	for i, r := range records {
		if err := w.Put(Key(i), r); err != nil {
			t.Fatalf("put record %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}
