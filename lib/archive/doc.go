// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements icepack's two binary container formats
// and the compression and encryption primitives they share.
//
// The module archive (.mar) packs compiled module code blobs behind a
// leading header and a deterministic-CBOR index sorted by name. It is
// always a standalone file, read by the loader's importer.
//
// The payload container (.pkg) packs a heterogeneous entry table
// (modules, sources, shared libraries, data files, nested archives,
// loader directives) with a binary index and a fixed trailing cookie.
// It has no leading header so it can be appended verbatim to a loader
// executable; readers locate the cookie from EOF.
//
// Both formats are loader contracts: the byte layouts here must match
// what the prebuilt bootstrap binaries parse at process start.
// Payloads are individually compressed (zstd or LZ4, probed per
// payload) and, for module archives built with a key, individually
// encrypted with XChaCha20-Poly1305 under per-entry HKDF-derived keys.
// Nonces are derived deterministically so identical inputs produce
// byte-identical archives.
package archive
