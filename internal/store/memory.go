package store

import "github.com/ajitpratap0/floatfeed/pkg/errors"

// NewMemory returns a Source over in-memory records, following the same
// wraparound rule as the on-disk backends. Records are not copied.
func NewMemory(records [][]byte, opts Options) (Source, error) {
	if opts.Backend == "" {
		opts.Backend = "memory"
	}
	return newCyclicSource(&memoryCursor{records: records, pos: -1}, opts)
}

type memoryCursor struct {
	records [][]byte
	pos     int
	closed  bool
}

func (c *memoryCursor) first() (bool, error) {
	if c.closed {
		return false, errors.New(errors.ErrorTypeClosed, "memory source is closed")
	}
	if len(c.records) == 0 {
		c.pos = -1
		return false, nil
	}
	c.pos = 0
	return true, nil
}

func (c *memoryCursor) next() (bool, error) {
	if c.closed {
		return false, errors.New(errors.ErrorTypeClosed, "memory source is closed")
	}
	c.pos++
	return c.pos < len(c.records), nil
}

func (c *memoryCursor) value() ([]byte, bool) {
	if c.closed || c.pos < 0 || c.pos >= len(c.records) {
		return nil, false
	}
	return c.records[c.pos], true
}

func (c *memoryCursor) close() error {
	c.closed = true
	return nil
}
