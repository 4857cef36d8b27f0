package mean

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ajitpratap0/floatfeed/pkg/datum"
	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

func sampleBlob() *Blob {
	return &Blob{Channels: 2, Height: 2, Width: 2, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8}}
}

func TestEncodeDecode(t *testing.T) {
	got, err := Decode(Encode(sampleBlob()))
	require.NoError(t, err)
	assert.Equal(t, sampleBlob(), got)
}

func TestDecodeLegacyFields(t *testing.T) {
	var b []byte
	for _, f := range []struct {
		n protowire.Number
		v uint64
	}{{fieldNum, 1}, {fieldChannels, 1}, {fieldHeight, 1}, {fieldWidth, 2}} {
		b = protowire.AppendTag(b, f.n, protowire.VarintType)
		b = protowire.AppendVarint(b, f.v)
	}
	for _, v := range []uint32{0x3f800000, 0x40000000} { // 1.0, 2.0 unpacked
		b = protowire.AppendTag(b, fieldData, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, v)
	}

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, datum.Shape{Channels: 1, Height: 1, Width: 2}, got.Shape())
	assert.Equal(t, []float32{1, 2}, got.Data)
}

func TestDecodeShapeRightAligned(t *testing.T) {
	var dims []byte
	for _, d := range []uint64{3, 2, 1} {
		dims = protowire.AppendVarint(dims, d)
	}
	var shape []byte
	shape = protowire.AppendTag(shape, fieldShapeDim, protowire.BytesType)
	shape = protowire.AppendBytes(shape, dims)

	raw := Encode(&Blob{Data: make([]float32, 6)})
	// the trailing shape message overrides the one Encode wrote
	raw = protowire.AppendTag(raw, fieldShape, protowire.BytesType)
	raw = protowire.AppendBytes(raw, shape)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, datum.Shape{Channels: 3, Height: 2, Width: 1}, got.Shape())
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		blob *Blob
	}{
		{"length mismatch", &Blob{Channels: 1, Height: 2, Width: 2, Data: []float32{1}}},
		{"zero shape", &Blob{Channels: 0, Height: 2, Width: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(Encode(tt.blob))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData))
		})
	}

	_, err := Decode([]byte{0x2a, 0x09, 0x00})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestLoadLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mean.binaryproto")
	require.NoError(t, Save(path, sampleBlob()))

	got, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, sampleBlob(), got)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestZero(t *testing.T) {
	z := Zero(datum.Shape{Channels: 3, Height: 2, Width: 2})
	assert.Len(t, z.Data, 12)
	for _, v := range z.Data {
		assert.Zero(t, v)
	}
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://datasets/imagenet/mean.binaryproto")
	require.NoError(t, err)
	assert.Equal(t, "datasets", bucket)
	assert.Equal(t, "imagenet/mean.binaryproto", key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3:///key", "/local/path"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}

// objectRoundTripper serves GetObject for a fixed set of path-style keys.
type objectRoundTripper struct {
	objects  map[string][]byte
	requests []string
}

func (m *objectRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req.Method+" "+req.URL.Path)
	path := strings.TrimPrefix(req.URL.Path, "/")
	if body, ok := m.objects[path]; ok && req.Method == http.MethodGet {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(body)),
			Header:     http.Header{"Content-Type": {"application/octet-stream"}},
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body: io.NopCloser(strings.NewReader(
			"<?xml version=\"1.0\"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>")),
		Header: http.Header{"Content-Type": {"application/xml"}},
	}, nil
}

func newMockClient(t *testing.T, rt http.RoundTripper) *s3.Client {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
}

func TestLoadS3(t *testing.T) {
	rt := &objectRoundTripper{objects: map[string][]byte{
		"datasets/cifar/mean.binaryproto": Encode(sampleBlob()),
	}}
	client := newMockClient(t, rt)

	got, err := Load(context.Background(), "s3://datasets/cifar/mean.binaryproto", WithS3Client(client))
	require.NoError(t, err)
	assert.Equal(t, sampleBlob(), got)
	assert.Contains(t, rt.requests, "GET /datasets/cifar/mean.binaryproto")
}

func TestLoadS3Missing(t *testing.T) {
	client := newMockClient(t, &objectRoundTripper{objects: map[string][]byte{}})

	_, err := Load(context.Background(), "s3://datasets/absent", WithS3Client(client))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStoreIO))
}
