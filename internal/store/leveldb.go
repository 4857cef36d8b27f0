package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

// leveldbBatchSize is how many puts are buffered before a write.
const leveldbBatchSize = 1000

type leveldbCursor struct {
	db   *leveldb.DB
	iter iterator.Iterator
	path string
}

func openLevelDB(path string) (*leveldbCursor, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: true,
		ReadOnly:       true,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to open leveldb").
			WithDetail("path", path)
	}
	return &leveldbCursor{
		db:   db,
		iter: db.NewIterator(nil, &opt.ReadOptions{DontFillCache: true}),
		path: path,
	}, nil
}

func (c *leveldbCursor) first() (bool, error) {
	if c.iter.First() {
		return true, nil
	}
	return false, c.iterError("seek to first")
}

func (c *leveldbCursor) next() (bool, error) {
	if c.iter.Next() {
		return true, nil
	}
	return false, c.iterError("next")
}

func (c *leveldbCursor) value() ([]byte, bool) {
	if !c.iter.Valid() {
		return nil, false
	}
	return c.iter.Value(), true
}

func (c *leveldbCursor) iterError(op string) error {
	if err := c.iter.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "leveldb iterator failed").
			WithDetail("op", op).
			WithDetail("path", c.path)
	}
	return nil
}

func (c *leveldbCursor) close() error {
	c.iter.Release()
	if err := c.db.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to close leveldb")
	}
	return nil
}

type leveldbWriter struct {
	db    *leveldb.DB
	batch *leveldb.Batch
	path  string
}

func createLevelDB(path string) (*leveldbWriter, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to create leveldb").
			WithDetail("path", path)
	}
	return &leveldbWriter{db: db, batch: new(leveldb.Batch), path: path}, nil
}

func (w *leveldbWriter) Put(key, value []byte) error {
	w.batch.Put(key, value)
	if w.batch.Len() >= leveldbBatchSize {
		return w.flush()
	}
	return nil
}

func (w *leveldbWriter) flush() error {
	if w.batch.Len() == 0 {
		return nil
	}
	if err := w.db.Write(w.batch, nil); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to write leveldb batch").
			WithDetail("path", w.path)
	}
	w.batch.Reset()
	return nil
}

func (w *leveldbWriter) Close() error {
	flushErr := w.flush()
	if err := w.db.Close(); err != nil && flushErr == nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to close leveldb")
	}
	return flushErr
}
