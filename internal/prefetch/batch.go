package prefetch

import "github.com/ajitpratap0/floatfeed/pkg/datum"

// Batch is one finished batch. Data holds Size items of ItemShape laid out
// item-major, then channel, height, width. Labels is nil when label output
// is disabled.
//
// A Batch returned by WaitAndSwap is reused by the pipeline: it is only
// valid until the next call to WaitAndSwap.
type Batch struct {
	Data      []float32
	Labels    []float32
	Size      int
	ItemShape datum.Shape
	// Cycle is the zero-based fill cycle that produced the batch
	Cycle uint64
}

func newBatch(size int, item datum.Shape, labels bool) *Batch {
	b := &Batch{
		Data:      make([]float32, size*item.Size()),
		Size:      size,
		ItemShape: item,
	}
	if labels {
		b.Labels = make([]float32, size)
	}
	return b
}

// Shape returns (batch, channels, height, width).
func (b *Batch) Shape() [4]int {
	return [4]int{b.Size, b.ItemShape.Channels, b.ItemShape.Height, b.ItemShape.Width}
}

// Item returns the slice of Data holding item i.
func (b *Batch) Item(i int) []float32 {
	n := b.ItemShape.Size()
	return b.Data[i*n : (i+1)*n]
}
