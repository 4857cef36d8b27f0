// Package augment turns decoded records into normalized batch items:
// an optional square crop (random in training, centered in evaluation), an
// optional horizontal mirror of the crop, mean subtraction and scaling.
package augment

import (
	"github.com/ajitpratap0/floatfeed/pkg/config"
	"github.com/ajitpratap0/floatfeed/pkg/datum"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
	"github.com/ajitpratap0/floatfeed/pkg/mean"
)

// Augmenter applies one fixed transform to records of one shape.
// An Augmenter is used by a single goroutine.
type Augmenter struct {
	shape  datum.Shape
	crop   int
	mirror bool
	train  bool
	scale  float32
	mean   []float32

	// scratch holds widened byte samples
	scratch []float32
}

// New validates tc against the record shape and builds an Augmenter.
// A nil m means a zero mean.
func New(shape datum.Shape, tc config.TransformConfig, m *mean.Blob) (*Augmenter, error) {
	if shape.Channels <= 0 || shape.Height <= 0 || shape.Width <= 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "invalid record shape %s", shape)
	}
	if tc.CropSize < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "crop_size cannot be negative")
	}
	if tc.Mirror && tc.CropSize == 0 {
		return nil, errors.New(errors.ErrorTypeConfig,
			"mirror requires crop_size to be set at the same time")
	}

	train := tc.Mode == config.ModeTrain
	if tc.CropSize > 0 {
		if train && (tc.CropSize >= shape.Height || tc.CropSize >= shape.Width) {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"crop_size %d must be smaller than the record height and width %s in train mode",
				tc.CropSize, shape)
		}
		if tc.CropSize > shape.Height || tc.CropSize > shape.Width {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"crop_size %d exceeds record shape %s", tc.CropSize, shape)
		}
	}

	if m == nil {
		m = mean.Zero(shape)
	}
	if m.Shape() != shape || len(m.Data) != shape.Size() {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"mean shape %s does not match record shape %s", m.Shape(), shape).
			WithDetail("mean_values", len(m.Data))
	}

	return &Augmenter{
		shape:  shape,
		crop:   tc.CropSize,
		mirror: tc.Mirror,
		train:  train,
		scale:  float32(tc.Scale),
		mean:   m.Data,
	}, nil
}

// OutputShape is the shape of one produced item.
func (a *Augmenter) OutputShape() datum.Shape {
	if a.crop == 0 {
		return a.shape
	}
	return datum.Shape{Channels: a.shape.Channels, Height: a.crop, Width: a.crop}
}

// Augment writes the transformed record into out, which must hold exactly
// OutputShape().Size() values. Random draws, when rng is non-nil and the
// transform is in train mode, are taken in the order: height offset, width
// offset, mirror decision.
func (a *Augmenter) Augment(d *datum.Datum, out []float32, rng *Rand) (mirrored bool, err error) {
	if d.Shape() != a.shape {
		return false, errors.Newf(errors.ErrorTypeData,
			"record shape %s differs from dataset shape %s", d.Shape(), a.shape)
	}
	if want := a.OutputShape().Size(); len(out) != want {
		return false, errors.Newf(errors.ErrorTypeInternal,
			"output slot holds %d values, need %d", len(out), want)
	}

	if a.crop == 0 {
		samples, err := d.Samples(a.scratch)
		if err != nil {
			return false, err
		}
		if !d.HasFloatData() {
			a.scratch = samples
		}
		for i, s := range samples {
			out[i] = (s - a.mean[i]) * a.scale
		}
		return false, nil
	}

	if !d.HasFloatData() {
		return false, errors.New(errors.ErrorTypeConfig,
			"cropping requires records with float_data")
	}
	samples, err := d.Samples(nil)
	if err != nil {
		return false, err
	}

	height, width, crop := a.shape.Height, a.shape.Width, a.crop
	hOff, wOff := (height-crop)/2, (width-crop)/2
	random := a.train && rng != nil
	if random {
		hOff = int(rng.Next() % uint32(height-crop))
		wOff = int(rng.Next() % uint32(width-crop))
		mirrored = a.mirror && rng.Next()%2 != 0
	}

	for c := 0; c < a.shape.Channels; c++ {
		for h := 0; h < crop; h++ {
			src := (c*height+h+hOff)*width + wOff
			dst := (c*crop + h) * crop
			row := out[dst : dst+crop]
			if mirrored {
				for w := range row {
					i := src + crop - 1 - w
					row[w] = (samples[i] - a.mean[i]) * a.scale
				}
				continue
			}
			for w := range row {
				i := src + w
				row[w] = (samples[i] - a.mean[i]) * a.scale
			}
		}
	}
	return mirrored, nil
}
