// Package store provides the record source: a cursor over an ordered
// key-value dataset that yields values in key order and silently restarts
// from the first record when it runs off the end.
//
// Two engines are supported behind the same contract:
//
//   - leveldb: an LSM store read through an iterator (First/Next/Valid/Value)
//   - bolt: a B+tree file read through a bucket cursor whose end is signalled
//     by a nil key
//
// Both are adapted to a small internal cursor interface so the wraparound
// rule lives in exactly one place.
package store

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/pkg/compression"
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
	"github.com/ajitpratap0/floatfeed/pkg/logger"
)

// Source is a cyclic cursor over a dataset.
type Source interface {
	// Current returns the record under the cursor. The slice is only valid
	// until the next Advance or Close.
	Current() ([]byte, error)
	// Advance moves to the next record, or back to the first one when the
	// end of the store is reached.
	Advance() error
	// Close releases the cursor and the underlying store.
	Close() error
}

// Writer appends records to a new dataset.
type Writer interface {
	Put(key, value []byte) error
	Close() error
}

// Options configures Open and Create.
type Options struct {
	Backend config.Backend
	Path    string
	// Bucket names the bbolt bucket; ignored by leveldb
	Bucket string
	// Codec compresses values on write and decompresses on read; nil stores raw values
	Codec compression.Compressor
	// Logger receives the wraparound notice; nil uses the global logger
	Logger *zap.Logger
	// OnWrap is invoked every time the cursor restarts from the first record
	OnWrap func()
}

// OptionsFromConfig maps the data section of a feed configuration.
func OptionsFromConfig(dc config.DataConfig) (Options, error) {
	codec, err := compression.NewCompressor(&compression.Config{
		Algorithm: compression.Algorithm(dc.Compression),
		Level:     compression.Default,
	})
	if err != nil {
		return Options{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid data.compression")
	}
	return Options{
		Backend: dc.Backend,
		Path:    dc.Source,
		Bucket:  dc.Bucket,
		Codec:   codec,
	}, nil
}

// cursor is the engine-specific half of a Source.
type cursor interface {
	// first positions on the first entry and reports whether one exists
	first() (bool, error)
	// next moves forward and reports whether an entry is under the cursor
	next() (bool, error)
	// value returns the raw value under the cursor
	value() ([]byte, bool)
	close() error
}

// Open opens an existing dataset positioned on its first record.
func Open(opts Options) (Source, error) {
	if err := opts.Backend.Validate(); err != nil {
		return nil, err
	}

	var (
		c   cursor
		err error
	)
	switch opts.Backend {
	case config.BackendLevelDB:
		c, err = openLevelDB(opts.Path)
	case config.BackendBolt:
		c, err = openBolt(opts.Path, bucketName(opts.Bucket))
	}
	if err != nil {
		return nil, err
	}

	src, err := newCyclicSource(c, opts)
	if err != nil {
		_ = c.close()
		return nil, err
	}
	return src, nil
}

// Create creates a new dataset for writing. It fails if one already exists
// at the path.
func Create(opts Options) (Writer, error) {
	if err := opts.Backend.Validate(); err != nil {
		return nil, err
	}

	var (
		w   Writer
		err error
	)
	switch opts.Backend {
	case config.BackendLevelDB:
		w, err = createLevelDB(opts.Path)
	case config.BackendBolt:
		w, err = createBolt(opts.Path, bucketName(opts.Bucket))
	}
	if err != nil {
		return nil, err
	}
	if opts.Codec == nil || opts.Codec.Algorithm() == compression.None {
		return w, nil
	}
	return &compressingWriter{Writer: w, codec: opts.Codec}, nil
}

func bucketName(b string) string {
	if b == "" {
		return config.DefaultBucket
	}
	return b
}

type compressingWriter struct {
	Writer
	codec compression.Compressor
}

func (w *compressingWriter) Put(key, value []byte) error {
	enc, err := w.codec.Compress(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to compress record").
			WithDetail("key", string(key))
	}
	return w.Writer.Put(key, enc)
}

// cyclicSource applies the wraparound rule and value decompression on top
// of an engine cursor.
type cyclicSource struct {
	c      cursor
	codec  compression.Compressor
	logger *zap.Logger
	onWrap func()
	wraps  int
}

func newCyclicSource(c cursor, opts Options) (*cyclicSource, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	log = log.With(
		zap.String("component", "record_source"),
		zap.String("backend", string(opts.Backend)),
		zap.String("path", opts.Path),
	)

	ok, err := c.first()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.ErrorTypeStoreIO, "store contains no records").
			WithDetail("path", opts.Path)
	}

	return &cyclicSource{c: c, codec: opts.Codec, logger: log, onWrap: opts.OnWrap}, nil
}

func (s *cyclicSource) Current() ([]byte, error) {
	v, ok := s.c.value()
	if !ok {
		return nil, errors.New(errors.ErrorTypeStoreIO, "cursor is not positioned on a valid record")
	}
	if s.codec == nil {
		return v, nil
	}
	out, err := s.codec.Decompress(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decompress record").
			WithDetail("codec", string(s.codec.Algorithm()))
	}
	return out, nil
}

func (s *cyclicSource) Advance() error {
	ok, err := s.c.next()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	s.wraps++
	s.logger.Info("Restarting data prefetching from start.", zap.Int("wraparounds", s.wraps))
	if s.onWrap != nil {
		s.onWrap()
	}

	ok, err = s.c.first()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.ErrorTypeStoreIO, "store became empty while reading")
	}
	return nil
}

func (s *cyclicSource) Close() error {
	return s.c.close()
}
