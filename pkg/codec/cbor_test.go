package codec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAnyBodiesDecodeToStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "ada", "tags": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if diff := cmp.Diff(map[string]any{"name": "ada", "tags": []any{"a", "b"}}, m); diff != "" {
		t.Fatalf("decoded body mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(struct {
		Action string `cbor:"action"`
	}{Action: "request"}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got struct {
		Action string `cbor:"action"`
	}
	if err := NewDecoder(&buf).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Action != "request" {
		t.Fatalf("action = %q", got.Action)
	}
}
