// Package mean loads the per-element mean reference subtracted from every
// sample. A mean file is a serialized BlobProto holding one float per
// (channel, height, width) coordinate of the uncropped record.
package mean

import (
	"context"
	"math"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ajitpratap0/floatfeed/pkg/datum"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

const (
	fieldNum      protowire.Number = 1
	fieldChannels protowire.Number = 2
	fieldHeight   protowire.Number = 3
	fieldWidth    protowire.Number = 4
	fieldData     protowire.Number = 5
	fieldShape    protowire.Number = 7

	fieldShapeDim protowire.Number = 1
)

// Blob is a decoded mean reference.
type Blob struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Shape returns the blob's (channels, height, width).
func (b *Blob) Shape() datum.Shape {
	return datum.Shape{Channels: b.Channels, Height: b.Height, Width: b.Width}
}

// Zero returns an all-zero mean of the given shape.
func Zero(shape datum.Shape) *Blob {
	return &Blob{
		Channels: shape.Channels,
		Height:   shape.Height,
		Width:    shape.Width,
		Data:     make([]float32, shape.Size()),
	}
}

// Load reads a mean blob from a local path or an s3://bucket/key URI.
func Load(ctx context.Context, uri string, opts ...Option) (*Blob, error) {
	o := options{s3: S3ConfigFromEnv()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		raw []byte
		err error
	)
	if strings.HasPrefix(uri, s3Scheme) {
		raw, err = fetchS3(ctx, uri, &o)
	} else {
		raw, err = os.ReadFile(uri) //nolint:gosec // path comes from the feed configuration
		if err != nil {
			err = errors.Wrap(err, errors.ErrorTypeFile, "failed to read mean file").
				WithDetail("path", uri)
		}
	}
	if err != nil {
		return nil, err
	}

	blob, err := Decode(raw)
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			e.WithDetail("uri", uri)
		}
		return nil, err
	}
	return blob, nil
}

// Save writes b to path as a BlobProto.
func Save(path string, b *Blob) error {
	if err := os.WriteFile(path, Encode(b), 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write mean file").
			WithDetail("path", path)
	}
	return nil
}

// Decode parses a BlobProto. When the shape message is present its trailing
// three dimensions win over the legacy num/channels/height/width fields.
func Decode(raw []byte) (*Blob, error) {
	var (
		blob Blob
		num  = 1
		dims []int64
		b    = raw
	)

	for len(b) > 0 {
		n, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return nil, malformed(l, "tag")
		}
		b = b[l:]

		switch {
		case n >= fieldNum && n <= fieldWidth && typ == protowire.VarintType:
			v, l := protowire.ConsumeVarint(b)
			if l < 0 {
				return nil, malformed(l, "dimension")
			}
			b = b[l:]
			switch n {
			case fieldNum:
				num = int(int32(v))
			case fieldChannels:
				blob.Channels = int(int32(v))
			case fieldHeight:
				blob.Height = int(int32(v))
			case fieldWidth:
				blob.Width = int(int32(v))
			}

		case n == fieldData && typ == protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			if l < 0 || len(v)%4 != 0 {
				return nil, malformed(l, "data")
			}
			b = b[l:]
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed32(v)
				blob.Data = append(blob.Data, math.Float32frombits(bits))
				v = v[m:]
			}

		case n == fieldData && typ == protowire.Fixed32Type:
			bits, l := protowire.ConsumeFixed32(b)
			if l < 0 {
				return nil, malformed(l, "data")
			}
			b = b[l:]
			blob.Data = append(blob.Data, math.Float32frombits(bits))

		case n == fieldShape && typ == protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			if l < 0 {
				return nil, malformed(l, "shape")
			}
			b = b[l:]
			var err error
			if dims, err = decodeShape(v); err != nil {
				return nil, err
			}

		default:
			l := protowire.ConsumeFieldValue(n, typ, b)
			if l < 0 {
				return nil, malformed(l, "unknown field")
			}
			b = b[l:]
		}
	}

	if len(dims) > 0 {
		if len(dims) > 4 {
			return nil, errors.Newf(errors.ErrorTypeData, "mean blob has %d axes, at most 4 supported", len(dims))
		}
		// right-align into (num, channels, height, width)
		padded := make([]int64, 4-len(dims), 4)
		for i := range padded {
			padded[i] = 1
		}
		padded = append(padded, dims...)
		num, blob.Channels, blob.Height, blob.Width = int(padded[0]), int(padded[1]), int(padded[2]), int(padded[3])
	}

	if num != 1 {
		return nil, errors.Newf(errors.ErrorTypeData, "mean blob must hold exactly one item, got num=%d", num)
	}
	if blob.Channels <= 0 || blob.Height <= 0 || blob.Width <= 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "mean blob has invalid shape %s", blob.Shape())
	}
	if len(blob.Data) != blob.Shape().Size() {
		return nil, errors.Newf(errors.ErrorTypeData,
			"mean blob has %d values, shape %s needs %d", len(blob.Data), blob.Shape(), blob.Shape().Size())
	}
	return &blob, nil
}

func decodeShape(b []byte) ([]int64, error) {
	var dims []int64
	for len(b) > 0 {
		n, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return nil, malformed(l, "shape tag")
		}
		b = b[l:]
		switch {
		case n == fieldShapeDim && typ == protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			if l < 0 {
				return nil, malformed(l, "shape dim")
			}
			b = b[l:]
			for len(v) > 0 {
				d, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return nil, malformed(m, "shape dim")
				}
				dims = append(dims, int64(d))
				v = v[m:]
			}
		case n == fieldShapeDim && typ == protowire.VarintType:
			d, l := protowire.ConsumeVarint(b)
			if l < 0 {
				return nil, malformed(l, "shape dim")
			}
			b = b[l:]
			dims = append(dims, int64(d))
		default:
			l := protowire.ConsumeFieldValue(n, typ, b)
			if l < 0 {
				return nil, malformed(l, "shape field")
			}
			b = b[l:]
		}
	}
	return dims, nil
}

func malformed(n int, what string) error {
	if n >= 0 {
		return errors.New(errors.ErrorTypeData, "malformed mean blob").WithDetail("field", what)
	}
	return errors.Wrap(protowire.ParseError(n), errors.ErrorTypeData, "malformed mean blob").
		WithDetail("field", what)
}

// Encode serializes b using the shape message and packed data.
func Encode(b *Blob) []byte {
	var shape []byte
	var dims []byte
	for _, d := range []int{1, b.Channels, b.Height, b.Width} {
		dims = protowire.AppendVarint(dims, uint64(int64(d)))
	}
	shape = protowire.AppendTag(shape, fieldShapeDim, protowire.BytesType)
	shape = protowire.AppendBytes(shape, dims)

	var out []byte
	out = protowire.AppendTag(out, fieldData, protowire.BytesType)
	out = protowire.AppendVarint(out, uint64(4*len(b.Data)))
	for _, f := range b.Data {
		out = protowire.AppendFixed32(out, math.Float32bits(f))
	}
	out = protowire.AppendTag(out, fieldShape, protowire.BytesType)
	out = protowire.AppendBytes(out, shape)
	return out
}
