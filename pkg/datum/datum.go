// Package datum decodes and encodes the record format stored in a dataset.
//
// A record is a protobuf Datum message:
//
//	message Datum {
//	  optional int32 channels = 1;
//	  optional int32 height = 2;
//	  optional int32 width = 3;
//	  optional bytes data = 4;        // dense uint8 samples
//	  optional int32 label = 5;
//	  repeated float float_data = 6;  // raw float samples
//	  optional bool encoded = 7;      // data holds a compressed image
//	}
//
// The codec is written directly against protowire so the hot decode path
// reuses the destination's slices and never retains the input buffer.
package datum

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

const (
	fieldChannels  protowire.Number = 1
	fieldHeight    protowire.Number = 2
	fieldWidth     protowire.Number = 3
	fieldData      protowire.Number = 4
	fieldLabel     protowire.Number = 5
	fieldFloatData protowire.Number = 6
	fieldEncoded   protowire.Number = 7
)

// Datum is one decoded record.
type Datum struct {
	Channels  int
	Height    int
	Width     int
	Data      []byte
	Label     int32
	FloatData []float32
	Encoded   bool
}

// Shape is the (channels, height, width) triple of a record.
type Shape struct {
	Channels int
	Height   int
	Width    int
}

// Size is the number of samples a record of this shape carries.
func (s Shape) Size() int {
	return s.Channels * s.Height * s.Width
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Channels, s.Height, s.Width)
}

// Shape returns the record's declared shape.
func (d *Datum) Shape() Shape {
	return Shape{Channels: d.Channels, Height: d.Height, Width: d.Width}
}

// HasFloatData reports whether the record carries a raw float payload.
func (d *Datum) HasFloatData() bool {
	return len(d.FloatData) > 0
}

// Reset clears d while keeping its slice capacity for reuse.
func (d *Datum) Reset() {
	*d = Datum{
		Data:      d.Data[:0],
		FloatData: d.FloatData[:0],
	}
}

// Decode parses raw into dst. dst is reset first; raw is not retained.
func Decode(raw []byte, dst *Datum) error {
	dst.Reset()

	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseError(protowire.ParseError(n), "tag")
		}
		b = b[n:]

		switch {
		case num == fieldChannels && typ == protowire.VarintType,
			num == fieldHeight && typ == protowire.VarintType,
			num == fieldWidth && typ == protowire.VarintType,
			num == fieldLabel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseError(protowire.ParseError(n), "varint field")
			}
			b = b[n:]
			switch num {
			case fieldChannels:
				dst.Channels = int(int32(v))
			case fieldHeight:
				dst.Height = int(int32(v))
			case fieldWidth:
				dst.Width = int(int32(v))
			case fieldLabel:
				dst.Label = int32(v)
			}

		case num == fieldEncoded && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseError(protowire.ParseError(n), "encoded")
			}
			b = b[n:]
			dst.Encoded = protowire.DecodeBool(v)

		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseError(protowire.ParseError(n), "data")
			}
			b = b[n:]
			dst.Data = append(dst.Data, v...)

		case num == fieldFloatData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseError(protowire.ParseError(n), "float_data")
			}
			b = b[n:]
			if len(v)%4 != 0 {
				return errors.Newf(errors.ErrorTypeData,
					"packed float_data length %d is not a multiple of 4", len(v))
			}
			dst.FloatData = appendPackedFloats(dst.FloatData, v)

		case num == fieldFloatData && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return parseError(protowire.ParseError(n), "float_data")
			}
			b = b[n:]
			dst.FloatData = append(dst.FloatData, math.Float32frombits(v))

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseError(protowire.ParseError(n), "unknown field")
			}
			b = b[n:]
		}
	}

	if dst.Channels < 0 || dst.Height < 0 || dst.Width < 0 {
		return errors.Newf(errors.ErrorTypeData, "negative record shape %s", dst.Shape())
	}
	return nil
}

func appendPackedFloats(dst []float32, b []byte) []float32 {
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst
}

func parseError(err error, what string) error {
	return errors.Wrap(err, errors.ErrorTypeData, "malformed record").
		WithDetail("field", what)
}

// Encode serializes d. Float samples are written packed.
func Encode(d *Datum) []byte {
	return AppendEncode(nil, d)
}

// AppendEncode appends the serialized form of d to b.
func AppendEncode(b []byte, d *Datum) []byte {
	b = protowire.AppendTag(b, fieldChannels, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(d.Channels)))
	b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(d.Height)))
	b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(d.Width)))
	if len(d.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Data)
	}
	b = protowire.AppendTag(b, fieldLabel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(d.Label)))
	if len(d.FloatData) > 0 {
		b = protowire.AppendTag(b, fieldFloatData, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(4*len(d.FloatData)))
		for _, f := range d.FloatData {
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	}
	if d.Encoded {
		b = protowire.AppendTag(b, fieldEncoded, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// Samples returns the record's samples as floats. The float payload is
// returned directly; a dense byte payload is widened into buf (grown as
// needed). The result always has Shape().Size() elements.
func (d *Datum) Samples(buf []float32) ([]float32, error) {
	size := d.Shape().Size()

	if d.HasFloatData() {
		if len(d.FloatData) != size {
			return nil, errors.Newf(errors.ErrorTypeData,
				"float_data has %d values, shape %s needs %d", len(d.FloatData), d.Shape(), size)
		}
		return d.FloatData, nil
	}

	if d.Encoded {
		return nil, errors.New(errors.ErrorTypeData, "encoded image records cannot be read as samples")
	}
	if len(d.Data) != size {
		return nil, errors.Newf(errors.ErrorTypeData,
			"data has %d bytes, shape %s needs %d", len(d.Data), d.Shape(), size)
	}
	if cap(buf) < size {
		buf = make([]float32, size)
	}
	buf = buf[:size]
	for i, v := range d.Data {
		buf[i] = float32(v)
	}
	return buf, nil
}
