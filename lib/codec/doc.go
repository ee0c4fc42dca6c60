// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides icepack's standard CBOR encoding configuration.
//
// Icepack uses two serialization formats with a clear boundary:
//
//   - JSON (authored as JSONC) for external interfaces: analysis
//     documents, manifest files, and CLI --json output.
//   - CBOR for internal persistence: build records in the work
//     directory, the binary cache index, and the module archive index.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every icepack package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — a prerequisite for the byte-identical rebuild guarantee,
// since the module archive index is CBOR inside the archive file.
//
// Usage:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR (build
//     records, cache index rows, archive index rows).
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats (manifest entries, CLI output).
//
// Never use both `cbor` and `json` tags on the same field.
package codec
