// Package json provides JSON serialization backed by goccy/go-json with
// pooled buffers for line-oriented output.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// LineWriter writes one JSON document per line.
type LineWriter struct {
	w       io.Writer
	buf     *bytes.Buffer
	enc     *gojson.Encoder
	written int
}

// NewLineWriter creates a LineWriter on w. Close releases its buffer.
func NewLineWriter(w io.Writer) *LineWriter {
	buf := GetBuffer()
	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &LineWriter{w: w, buf: buf, enc: enc}
}

// Write encodes v followed by a newline.
func (lw *LineWriter) Write(v interface{}) error {
	lw.buf.Reset()
	if err := lw.enc.Encode(v); err != nil {
		return err
	}
	if _, err := lw.w.Write(lw.buf.Bytes()); err != nil {
		return err
	}
	lw.written++
	return nil
}

// Written returns the number of documents written.
func (lw *LineWriter) Written() int {
	return lw.written
}

// Close returns the buffer to the pool. The underlying writer is not closed.
func (lw *LineWriter) Close() error {
	if lw.buf != nil {
		PutBuffer(lw.buf)
		lw.buf = nil
	}
	return nil
}
