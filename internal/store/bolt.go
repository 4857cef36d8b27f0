package store

import (
	"bytes"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

const (
	boltOpenTimeout = time.Second
	// boltTxSize is how many puts share one write transaction.
	boltTxSize = 1000
)

// boltCursor holds one read transaction open for the cursor's lifetime, so
// values returned by value stay valid until close.
type boltCursor struct {
	db  *bolt.DB
	tx  *bolt.Tx
	c   *bolt.Cursor
	key []byte
	val []byte
}

func openBolt(path, bucket string) (*boltCursor, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: boltOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to open bolt database").
			WithDetail("path", path)
	}
	tx, err := db.Begin(false)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to begin bolt read transaction")
	}
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		_ = tx.Rollback()
		_ = db.Close()
		return nil, errors.Newf(errors.ErrorTypeStoreIO, "bucket %q not found", bucket).
			WithDetail("path", path)
	}
	return &boltCursor{db: db, tx: tx, c: b.Cursor()}, nil
}

// A nil key is the end-of-bucket sentinel. Nested buckets (nil value) are skipped.
func (c *boltCursor) first() (bool, error) {
	c.key, c.val = c.c.First()
	return c.skipBuckets(), nil
}

func (c *boltCursor) next() (bool, error) {
	c.key, c.val = c.c.Next()
	return c.skipBuckets(), nil
}

func (c *boltCursor) skipBuckets() bool {
	for c.key != nil && c.val == nil {
		c.key, c.val = c.c.Next()
	}
	return c.key != nil
}

func (c *boltCursor) value() ([]byte, bool) {
	if c.key == nil {
		return nil, false
	}
	return c.val, true
}

func (c *boltCursor) close() error {
	_ = c.tx.Rollback()
	if err := c.db.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to close bolt database")
	}
	return nil
}

type boltWriter struct {
	db      *bolt.DB
	tx      *bolt.Tx
	bucket  *bolt.Bucket
	name    []byte
	pending int
}

func createBolt(path, bucket string) (*boltWriter, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to create bolt database").
			WithDetail("path", path)
	}
	err = db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(bucket)) != nil {
			return errors.Newf(errors.ErrorTypeStoreIO, "bucket %q already exists", bucket).
				WithDetail("path", path)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltWriter{db: db, name: []byte(bucket)}, nil
}

func (w *boltWriter) begin() error {
	tx, err := w.db.Begin(true)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to begin bolt write transaction")
	}
	b, err := tx.CreateBucketIfNotExists(w.name)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to create bolt bucket")
	}
	w.tx, w.bucket = tx, b
	return nil
}

func (w *boltWriter) Put(key, value []byte) error {
	if w.tx == nil {
		if err := w.begin(); err != nil {
			return err
		}
	}
	// bbolt requires key and value to stay valid until commit
	if err := w.bucket.Put(bytes.Clone(key), bytes.Clone(value)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to put bolt record").
			WithDetail("key", string(key))
	}
	w.pending++
	if w.pending >= boltTxSize {
		return w.commit()
	}
	return nil
}

func (w *boltWriter) commit() error {
	if w.tx == nil {
		return nil
	}
	err := w.tx.Commit()
	w.tx, w.bucket, w.pending = nil, nil, 0
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to commit bolt transaction")
	}
	return nil
}

func (w *boltWriter) Close() error {
	commitErr := w.commit()
	if err := w.db.Close(); err != nil && commitErr == nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to close bolt database")
	}
	return commitErr
}
