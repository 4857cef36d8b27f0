// Package compression provides the value codecs records may be stored with.
//
// A dataset written with a codec must be read back with the same codec; the
// codec name is part of the feed configuration, not of the stored values.
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Snappy,
//	    Level:     compression.Default,
//	})
//
//	stored, err := comp.Compress(datumBytes)
//	original, err := comp.Decompress(stored)
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip/Deflate
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None stores values as-is
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy block compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 block compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, trading speed for ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

func (l Level) String() string {
	switch l {
	case Fastest:
		return "Fastest"
	case Default:
		return "Default"
	case Better:
		return "Better"
	case Best:
		return "Best"
	default:
		return "Unknown"
	}
}

// DefaultMaxDecodedSize bounds a single decompressed value.
const DefaultMaxDecodedSize = 256 << 20

// Compressor encodes and decodes whole values.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress returns the encoded form of data. data is not modified.
	Compress(data []byte) ([]byte, error)
	// Decompress returns the original bytes of an encoded value.
	Decompress(data []byte) ([]byte, error)
	// Algorithm returns the codec in use.
	Algorithm() Algorithm
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm // Compression algorithm to use
	Level     Level     // Compression level
	// MaxDecodedSize caps Decompress output; zero means DefaultMaxDecodedSize
	MaxDecodedSize int64
}

// DefaultConfig returns a configuration that stores values uncompressed.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:      None,
		Level:          Default,
		MaxDecodedSize: DefaultMaxDecodedSize,
	}
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used. An empty algorithm name
// is treated as None.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	limit := config.MaxDecodedSize
	if limit <= 0 {
		limit = DefaultMaxDecodedSize
	}
	base := baseCompressor{algorithm: config.Algorithm, limit: limit}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCompressor{base}, nil
	case Gzip:
		return newGzipCompressor(base, config.Level), nil
	case Snappy:
		return &snappyCompressor{base}, nil
	case LZ4:
		return &lz4Compressor{baseCompressor: base, compressionLevel: mapLZ4Level(config.Level)}, nil
	case Zstd:
		return newZstdCompressor(base, config.Level)
	case S2:
		return &s2Compressor{base}, nil
	case Deflate:
		return &deflateCompressor{baseCompressor: base, level: mapDeflateLevel(config.Level)}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

type baseCompressor struct {
	algorithm Algorithm
	limit     int64
}

func (bc *baseCompressor) Algorithm() Algorithm {
	return bc.algorithm
}

// readAll drains r into a fresh slice, failing once the output passes the limit.
func (bc *baseCompressor) readAll(r io.Reader) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	n, err := io.Copy(buf, io.LimitReader(r, bc.limit+1))
	if err != nil {
		return nil, err
	}
	if n > bc.limit {
		return nil, fmt.Errorf("%s: decoded value exceeds %d bytes", bc.algorithm, bc.limit)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// checkBlockLen rejects block formats whose header announces an oversized value.
func (bc *baseCompressor) checkBlockLen(n int, err error) error {
	if err != nil {
		return err
	}
	if int64(n) > bc.limit {
		return fmt.Errorf("%s: decoded value exceeds %d bytes", bc.algorithm, bc.limit)
	}
	return nil
}

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// encode runs a streaming writer over data and returns a copy of the output.
func encode(data []byte, newWriter func(io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w, err := newWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

type gzipCompressor struct {
	baseCompressor
	writerPool sync.Pool
	readerPool sync.Pool
}

func newGzipCompressor(base baseCompressor, level Level) *gzipCompressor {
	gl := mapGzipLevel(level)
	gc := &gzipCompressor{baseCompressor: base}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gl)
		return w
	}
	gc.readerPool.New = func() interface{} {
		return new(gzip.Reader)
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	return encode(data, func(dst io.Writer) (io.WriteCloser, error) {
		w.Reset(dst)
		return w, nil
	})
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return gc.readAll(r)
}

type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if err := sc.checkBlockLen(snappy.DecodedLen(data)); err != nil {
		return nil, err
	}
	return snappy.Decode(nil, data)
}

type lz4Compressor struct {
	baseCompressor
	compressionLevel lz4.CompressionLevel
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	return encode(data, func(dst io.Writer) (io.WriteCloser, error) {
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
			return nil, err
		}
		return w, nil
	})
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return lc.readAll(lz4.NewReader(bytes.NewReader(data)))
}

type zstdCompressor struct {
	baseCompressor
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(base baseCompressor, level Level) (*zstdCompressor, error) {
	// EncodeAll and DecodeAll are safe for concurrent use on a shared coder.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(base.limit)))
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{baseCompressor: base, encoder: enc, decoder: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.decoder.DecodeAll(data, nil)
}

type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	if err := sc.checkBlockLen(s2.DecodedLen(data)); err != nil {
		return nil, err
	}
	return s2.Decode(nil, data)
}

type deflateCompressor struct {
	baseCompressor
	level int
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	return encode(data, func(dst io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(dst, dc.level)
	})
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close() //nolint:errcheck
	return dc.readAll(r)
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
