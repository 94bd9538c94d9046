package docstore

import (
	"testing"
	"time"
)

func TestCodecPreservesTypes(t *testing.T) {
	ts := time.Date(2026, 5, 2, 10, 30, 0, 123456789, time.UTC)
	in := Fields{
		"text":      "hello",
		"createdAt": ts,
		"isAnon":    true,
		"count":     int64(7),
		"ratio":     0.5,
		"nested":    map[string]any{"at": ts},
	}
	data, err := encodeFields(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeFields(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !out.Time("createdAt").Equal(ts) {
		t.Errorf("createdAt = %v, want %v", out["createdAt"], ts)
	}
	if out["count"] != int64(7) {
		t.Errorf("count = %#v, want int64(7)", out["count"])
	}
	if out["ratio"] != 0.5 {
		t.Errorf("ratio = %#v, want 0.5", out["ratio"])
	}
	if !out.Bool("isAnon") || out.String("text") != "hello" {
		t.Errorf("scalars = %v", out)
	}
	nested, _ := out["nested"].(map[string]any)
	if at, _ := nested["at"].(time.Time); !at.Equal(ts) {
		t.Errorf("nested time = %v", nested["at"])
	}
}

func TestDecodeRejectsBadTimestamp(t *testing.T) {
	if _, err := decodeFields([]byte(`{"at":{"$time":"yesterday"}}`)); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}
