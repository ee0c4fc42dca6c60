// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleRecord is a representative internal persistence type using
// cbor struct tags (the convention for purely-internal types).
type sampleRecord struct {
	Kind    string `cbor:"kind"`
	Output  string `cbor:"output,omitempty"`
	Version int    `cbor:"version"`
}

// sampleDualRow uses json struct tags (the convention for types that
// serve both JSON and CBOR, relying on fxamacker's fallback).
type sampleDualRow struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{
		Kind:    "container",
		Output:  "dist/app.pkg",
		Version: 1,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	// Maps are the worst case for determinism: the iteration order of
	// a Go map changes between runs, so only the encoder's key
	// sorting keeps the bytes stable.
	record := map[string]any{
		"inputs":  []string{"app", "util", "libfoo.so"},
		"kind":    "module-archive",
		"version": 1,
	}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(record)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestJSONTagFallback(t *testing.T) {
	// Manifest entry types carry only json tags; they must still
	// encode/decode through our modes using the json names as CBOR
	// map keys.
	original := sampleDualRow{Name: "libssl.so", Type: "BINARY"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDualRow
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("json-tag roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestOmitemptyRespected(t *testing.T) {
	withOutput := sampleRecord{Kind: "exe", Output: "dist/app", Version: 1}
	withoutOutput := sampleRecord{Kind: "exe", Version: 1}

	dataWith, err := Marshal(withOutput)
	if err != nil {
		t.Fatal(err)
	}
	dataWithout, err := Marshal(withoutOutput)
	if err != nil {
		t.Fatal(err)
	}

	if len(dataWithout) >= len(dataWith) {
		t.Errorf("omitempty not effective: without=%d bytes, with=%d bytes",
			len(dataWithout), len(dataWith))
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var record sampleRecord
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &record); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestByteStringRoundtrip(t *testing.T) {
	// []byte fields must encode as CBOR byte strings (major type 2),
	// not text strings. Archive index rows carry binary digests.
	type envelope struct {
		Digest []byte `cbor:"digest"`
	}

	original := envelope{Digest: []byte{0x01, 0x02, 0xFE, 0xFF}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(decoded.Digest, original.Digest) {
		t.Errorf("byte string roundtrip: got %x, want %x", decoded.Digest, original.Digest)
	}
}

func BenchmarkMarshal(b *testing.B) {
	record := sampleRecord{
		Kind:    "container",
		Output:  "dist/app.pkg",
		Version: 1,
	}

	b.ReportAllocs()
	for b.Loop() {
		Marshal(record)
	}
}

func BenchmarkUnmarshal(b *testing.B) {
	record := sampleRecord{
		Kind:    "container",
		Output:  "dist/app.pkg",
		Version: 1,
	}
	data, err := Marshal(record)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		var decoded sampleRecord
		Unmarshal(data, &decoded)
	}
}
