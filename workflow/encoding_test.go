package workflow

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type sampleRequest struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
}

type sampleResponse struct {
	Data            string `json:"data"`
	OriginalRequest any    `json:"original_request"`
	RequestID       string `json:"request_id"`
}

func TestEncodeDecode_SimpleStruct(t *testing.T) {
	RegisterType[sampleRequest]()

	original := sampleRequest{RequestID: "test-123", Prompt: "test prompt"}
	decoded := DecodeCheckpointValue(EncodeCheckpointValue(original))

	got, ok := decoded.(sampleRequest)
	if !ok {
		t.Fatalf("decoded type = %T, want sampleRequest", decoded)
	}
	if got != original {
		t.Errorf("decoded = %+v, want %+v", got, original)
	}
}

func TestEncodeDecode_NestedStruct(t *testing.T) {
	RegisterType[sampleRequest]()
	RegisterType[sampleResponse]()

	original := sampleResponse{
		Data:            "approve",
		OriginalRequest: sampleRequest{RequestID: "abc", Prompt: "prompt"},
		RequestID:       "abc",
	}
	decoded := DecodeCheckpointValue(EncodeCheckpointValue(original))

	got, ok := decoded.(sampleResponse)
	if !ok {
		t.Fatalf("decoded type = %T, want sampleResponse", decoded)
	}
	if got.Data != "approve" || got.RequestID != "abc" {
		t.Errorf("decoded fields = %+v", got)
	}
	nested, ok := got.OriginalRequest.(sampleRequest)
	if !ok {
		t.Fatalf("nested type = %T, want sampleRequest", got.OriginalRequest)
	}
	if nested.Prompt != "prompt" || nested.RequestID != "abc" {
		t.Errorf("nested = %+v", nested)
	}
}

func TestEncodeDecode_NestedContainers(t *testing.T) {
	RegisterType[sampleRequest]()

	original := map[string]any{
		"requests": []any{
			sampleRequest{RequestID: "req-1", Prompt: "first"},
			sampleRequest{RequestID: "req-2", Prompt: "second"},
		},
		"count": 2,
	}
	decoded := DecodeCheckpointValue(EncodeCheckpointValue(original))

	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map", decoded)
	}
	requests, ok := m["requests"].([]any)
	if !ok || len(requests) != 2 {
		t.Fatalf("requests = %v", m["requests"])
	}
	first, ok := requests[0].(sampleRequest)
	if !ok || first.RequestID != "req-1" {
		t.Errorf("first request = %v", requests[0])
	}
}

func TestEncodeDecode_TimeAndBinary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC)
	decoded := DecodeCheckpointValue(EncodeCheckpointValue(now))
	got, ok := decoded.(time.Time)
	if !ok || !got.Equal(now) {
		t.Errorf("decoded time = %v, want %v", decoded, now)
	}

	blob := []byte{0x01, 0x02, 0xFF}
	decodedBlob := DecodeCheckpointValue(EncodeCheckpointValue(blob))
	gotBlob, ok := decodedBlob.([]byte)
	if !ok || !reflect.DeepEqual(gotBlob, blob) {
		t.Errorf("decoded blob = %v, want %v", decodedBlob, blob)
	}
}

func TestDecode_UnresolvableTypeFallsBackToMap(t *testing.T) {
	encoded := map[string]any{
		"$type": "github.com/nowhere/pkg.Unknown",
		"value": map[string]any{"field": "data"},
	}
	decoded := DecodeCheckpointValue(encoded)

	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want raw map", decoded)
	}
	if m["field"] != "data" {
		t.Errorf("raw map = %v", m)
	}
}

func TestDecode_ShapeMismatchRefusesInstantiation(t *testing.T) {
	RegisterType[sampleRequest]()

	// A forged marker naming a real type but carrying fields the type does
	// not declare must not instantiate.
	encoded := map[string]any{
		"$type": qualifiedTypeName(TypeOf[sampleRequest]()),
		"value": map[string]any{"not_a_field": "x", "injected": true},
	}
	decoded := DecodeCheckpointValue(encoded)

	if _, ok := decoded.(sampleRequest); ok {
		t.Fatal("shape-mismatched marker must not instantiate the type")
	}
	if m, ok := decoded.(map[string]any); !ok || m["injected"] != true {
		t.Errorf("expected raw map fallback, got %T %v", decoded, decoded)
	}
}

func TestDecodeTypedPayload(t *testing.T) {
	RegisterType[sampleRequest]()
	reg := DefaultTypeRegistry()
	name := qualifiedTypeName(TypeOf[sampleRequest]())

	t.Run("resolvable round trip", func(t *testing.T) {
		encoded := EncodeCheckpointValue(sampleRequest{RequestID: "r1", Prompt: "p"})
		payload, err := decodeTypedPayload(encoded, name, reg)
		if err != nil {
			t.Fatalf("decodeTypedPayload: %v", err)
		}
		if got := payload.(sampleRequest); got.RequestID != "r1" {
			t.Errorf("payload = %+v", got)
		}
	})

	t.Run("unresolvable type is fatal", func(t *testing.T) {
		_, err := decodeTypedPayload(map[string]any{}, "github.com/nowhere/pkg.Gone", reg)
		if !errors.Is(err, ErrCheckpointDecode) {
			t.Errorf("expected ErrCheckpointDecode, got %v", err)
		}
	})
}
