package augment

import "math/rand/v2"

// pcgIncrement is the second PCG word derived from a single seed.
const pcgIncrement = 0xda3e39cb94b95bdb

// Rand is the augmentation random stream. It is owned by a single
// goroutine and is not safe for concurrent use.
type Rand struct {
	src   rand.Source
	draws uint64
}

// NewRand returns a stream seeded with seed. Equal seeds give equal streams.
func NewRand(seed uint64) *Rand {
	return &Rand{src: rand.NewPCG(seed, seed^pcgIncrement)}
}

// NewRandFromSource wraps an arbitrary source.
func NewRandFromSource(src rand.Source) *Rand {
	return &Rand{src: src}
}

// RandomSeed draws a seed from the runtime's entropy-seeded generator.
func RandomSeed() uint64 {
	for {
		if s := rand.Uint64(); s != 0 {
			return s
		}
	}
}

// Next returns the next 32-bit draw.
func (r *Rand) Next() uint32 {
	r.draws++
	return uint32(r.src.Uint64() >> 32)
}

// Draws reports how many values have been consumed.
func (r *Rand) Draws() uint64 {
	return r.draws
}
