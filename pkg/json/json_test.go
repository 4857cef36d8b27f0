package json

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Label     int32     `json:"label"`
	FloatData []float32 `json:"float_data,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	Note      string    `json:"note,omitempty"`
}

func TestMarshalUnmarshal(t *testing.T) {
	in := sample{Label: 3, FloatData: []float32{0.5, -1}, Data: []byte{1, 2, 255}}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Label != 3 || len(out.FloatData) != 2 || out.FloatData[1] != -1 {
		t.Fatalf("unexpected decode %+v", out)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("byte payload mismatch: %v", out.Data)
	}
}

func TestLineWriter(t *testing.T) {
	var out bytes.Buffer
	lw := NewLineWriter(&out)
	defer lw.Close()

	for i := int32(0); i < 3; i++ {
		if err := lw.Write(sample{Label: i, Note: "<a&b>"}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if lw.Written() != 3 {
		t.Fatalf("expected 3 documents, got %d", lw.Written())
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out.String())
	}
	if lines[2] != `{"label":2,"note":"<a&b>"}` {
		t.Fatalf("unexpected line %q", lines[2])
	}
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("stale")
	PutBuffer(buf)

	if GetBuffer().Len() != 0 {
		t.Fatal("pooled buffer was not reset")
	}

	large := bytes.NewBuffer(make([]byte, 0, 2*1024*1024))
	PutBuffer(large) // dropped, must not panic
}
