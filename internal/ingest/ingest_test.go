package ingest_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/floatfeed/internal/ingest"
	"github.com/ajitpratap0/floatfeed/internal/store"
	"github.com/ajitpratap0/floatfeed/internal/testutil"
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/datum"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
	"github.com/ajitpratap0/floatfeed/pkg/json"
)

// memWriter collects puts in order.
type memWriter struct {
	keys   []string
	values [][]byte
	closed bool
}

func (w *memWriter) Put(key, value []byte) error {
	w.keys = append(w.keys, string(key))
	w.values = append(w.values, append([]byte(nil), value...))
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func floatLine(label int, base float32) string {
	return fmt.Sprintf(`{"channels":1,"height":2,"width":2,"label":%d,"float_data":[%g,%g,%g,%g]}`,
		label, base, base+1, base+2, base+3)
}

func TestFromJSONLines(t *testing.T) {
	input := strings.Join([]string{
		floatLine(0, 0),
		"",
		floatLine(1, 10),
		fmt.Sprintf(`{"channels":1,"height":2,"width":2,"label":2,"data":%q}`,
			base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 255})),
	}, "\n")

	w := &memWriter{}
	stats, err := ingest.FromJSONLines(context.Background(), strings.NewReader(input), w, testutil.TestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, datum.Shape{Channels: 1, Height: 2, Width: 2}, stats.Shape)
	assert.Equal(t, []string{"00000000", "00000001", "00000002"}, w.keys)
	assert.False(t, w.closed, "writer is owned by the caller")

	var d datum.Datum
	require.NoError(t, datum.Decode(w.values[1], &d))
	assert.Equal(t, int32(1), d.Label)
	assert.Equal(t, []float32{10, 11, 12, 13}, d.FloatData)

	require.NoError(t, datum.Decode(w.values[2], &d))
	assert.Equal(t, []byte{1, 2, 3, 255}, d.Data)
	assert.False(t, d.HasFloatData())
}

func TestFromJSONLinesRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"invalid json", floatLine(0, 0) + "\n{not json", 2},
		{"no payload", `{"channels":1,"height":1,"width":1}`, 1},
		{"both payloads", `{"channels":1,"height":1,"width":1,"float_data":[1],"data":"AQ=="}`, 1},
		{"zero dimension", `{"channels":0,"height":1,"width":1,"float_data":[1]}`, 1},
		{"length mismatch", `{"channels":1,"height":2,"width":2,"float_data":[1,2,3]}`, 1},
		{"shape change", floatLine(0, 0) + "\n" + `{"channels":1,"height":1,"width":4,"float_data":[1,2,3,4]}`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingest.FromJSONLines(context.Background(), strings.NewReader(tt.input), &memWriter{}, testutil.TestLogger(t))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData), "got %v", err)

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.line, e.Details["line"])
		})
	}
}

func TestFromJSONLinesHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ingest.FromJSONLines(ctx, strings.NewReader(floatLine(0, 0)), &memWriter{}, testutil.TestLogger(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestIntoStoreAndDump(t *testing.T) {
	for _, backend := range []config.Backend{config.BackendLevelDB, config.BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			ctx, cancel := testutil.TestContext(t)
			defer cancel()

			dc := config.DataConfig{
				Source:      filepath.Join(t.TempDir(), "db"),
				Backend:     backend,
				Bucket:      config.DefaultBucket,
				Compression: "zstd",
			}
			opts, err := store.OptionsFromConfig(dc)
			require.NoError(t, err)
			opts.Logger = testutil.TestLogger(t)

			w, err := store.Create(opts)
			require.NoError(t, err)
			input := floatLine(4, 0) + "\n" + floatLine(7, 100) + "\n"
			stats, err := ingest.FromJSONLines(ctx, strings.NewReader(input), w, opts.Logger)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			assert.Equal(t, 2, stats.Records)

			src, err := store.Open(opts)
			require.NoError(t, err)
			defer src.Close()

			var out bytes.Buffer
			n, err := ingest.Dump(ctx, src, 3, &out)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, 3)

			var summaries []ingest.Summary
			for _, l := range lines {
				var s ingest.Summary
				require.NoError(t, json.Unmarshal([]byte(l), &s))
				summaries = append(summaries, s)
			}
			assert.Equal(t, int32(4), summaries[0].Label)
			assert.Equal(t, "float", summaries[0].Payload)
			assert.Equal(t, float32(0), summaries[0].Min)
			assert.Equal(t, float32(3), summaries[0].Max)
			assert.InDelta(t, 1.5, summaries[0].Mean, 1e-9)
			assert.Equal(t, int32(7), summaries[1].Label)
			assert.Equal(t, float32(100), summaries[1].Min)
			// the third summary comes from the wrapped cursor
			assert.Equal(t, int32(4), summaries[2].Label)
			assert.Equal(t, 2, summaries[2].Index)
		})
	}
}

func TestDumpByteAndEncodedPayloads(t *testing.T) {
	records := [][]byte{
		datum.Encode(&datum.Datum{Channels: 1, Height: 1, Width: 3, Label: 1, Data: []byte{2, 4, 6}}),
		datum.Encode(&datum.Datum{Channels: 3, Height: 8, Width: 8, Label: 2, Data: []byte{0xff, 0xd8}, Encoded: true}),
	}
	src, err := store.NewMemory(records, store.Options{Logger: testutil.TestLogger(t)})
	require.NoError(t, err)
	defer src.Close()

	var out bytes.Buffer
	_, err = ingest.Dump(context.Background(), src, 2, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"index":0,"channels":1,"height":1,"width":3,"label":1,"payload":"bytes","min":2,"max":6,"mean":4}`, lines[0])
	assert.Contains(t, lines[1], `"payload":"encoded"`)
}

func TestDumpRejectsNonPositiveLimit(t *testing.T) {
	src, err := store.NewMemory(testutil.RampRecords(datum.Shape{Channels: 1, Height: 1, Width: 1}, 1), store.Options{})
	require.NoError(t, err)
	defer src.Close()

	_, err = ingest.Dump(context.Background(), src, 0, &bytes.Buffer{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
