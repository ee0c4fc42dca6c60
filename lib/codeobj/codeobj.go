// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package codeobj defines the compiled code blob format carried inside
// module archives and payload containers, and the compiler collaborator
// that produces blobs from source text.
//
// A blob records the source path it was compiled from so the runtime
// can report usable tracebacks. Because that path is a build-machine
// path, the pipeline strips configured prefixes before packaging:
// error messages produced at run time must not leak the build
// environment, and byte-identical output across build machines is
// impossible with absolute paths embedded.
package codeobj

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// blobMagic is the 4-byte code blob signature: "ICB" + version byte.
var blobMagic = [4]byte{'I', 'C', 'B', 1}

// blobHeaderSize is the fixed prefix before the source path: magic,
// flags byte, and the 2-byte path length.
const blobHeaderSize = 4 + 1 + 2

// Blob is one compiled code object.
type Blob struct {
	// Flags is reserved for the runtime (optimization level and the
	// like); icepack carries it through unchanged.
	Flags byte

	// SourcePath is the path the module was compiled from, as
	// recorded by the compiler. Rewritten by StripPrefixes.
	SourcePath string

	// Body is the serialized code object, opaque to icepack.
	Body []byte
}

// Encode serializes the blob: magic, flags, u16 path length + path,
// u32 body length + body. Little-endian, loader contract.
func (b *Blob) Encode() ([]byte, error) {
	if len(b.SourcePath) > 0xFFFF {
		return nil, fmt.Errorf("source path is %d bytes, format limit is 65535", len(b.SourcePath))
	}

	output := make([]byte, 0, blobHeaderSize+len(b.SourcePath)+4+len(b.Body))
	output = append(output, blobMagic[:]...)
	output = append(output, b.Flags)
	output = binary.LittleEndian.AppendUint16(output, uint16(len(b.SourcePath)))
	output = append(output, b.SourcePath...)
	output = binary.LittleEndian.AppendUint32(output, uint32(len(b.Body)))
	output = append(output, b.Body...)
	return output, nil
}

// Decode parses an encoded blob.
func Decode(data []byte) (*Blob, error) {
	if len(data) < blobHeaderSize+4 {
		return nil, fmt.Errorf("code blob is %d bytes, minimum is %d", len(data), blobHeaderSize+4)
	}
	if [4]byte(data[0:4]) != blobMagic {
		if data[0] == 'I' && data[1] == 'C' && data[2] == 'B' {
			return nil, fmt.Errorf("code blob version %d is not supported (this code supports version %d)",
				data[3], blobMagic[3])
		}
		return nil, fmt.Errorf("not a code blob (invalid magic bytes)")
	}

	flags := data[4]
	pathLength := int(binary.LittleEndian.Uint16(data[5:]))
	if len(data) < blobHeaderSize+pathLength+4 {
		return nil, fmt.Errorf("code blob truncated in source path")
	}
	sourcePath := string(data[blobHeaderSize : blobHeaderSize+pathLength])

	bodyStart := blobHeaderSize + pathLength + 4
	bodyLength := int(binary.LittleEndian.Uint32(data[blobHeaderSize+pathLength:]))
	if len(data) != bodyStart+bodyLength {
		return nil, fmt.Errorf("code blob body is %d bytes, header records %d", len(data)-bodyStart, bodyLength)
	}

	return &Blob{
		Flags:      flags,
		SourcePath: sourcePath,
		Body:       data[bodyStart:],
	}, nil
}

// LoadFile reads and decodes a blob file.
func LoadFile(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading code blob: %w", err)
	}
	blob, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return blob, nil
}

// StripPrefixes removes the longest matching build-machine prefix from
// the blob's source path, leaving a relative path. Prefixes are
// matched on path-segment boundaries; no match leaves the path
// unchanged.
func (b *Blob) StripPrefixes(prefixes []string) {
	best := ""
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		cleaned := strings.TrimRight(prefix, "/")
		if b.SourcePath == cleaned {
			continue
		}
		if strings.HasPrefix(b.SourcePath, cleaned+"/") && len(cleaned) > len(best) {
			best = cleaned
		}
	}
	if best != "" {
		b.SourcePath = b.SourcePath[len(best)+1:]
	}
}

// CacheDir is an analysis-supplied directory of precompiled blobs,
// one file per module named <module>.icb. Module names are used
// verbatim as file names; analysis guarantees they contain no path
// separators.
type CacheDir string

// Lookup loads the cached blob for a module. The boolean is false
// when the cache has no entry; decode failures on a present file are
// real errors.
func (d CacheDir) Lookup(name string) (*Blob, bool, error) {
	if d == "" {
		return nil, false, nil
	}
	path := filepath.Join(string(d), name+".icb")
	if _, err := os.Stat(path); err != nil {
		return nil, false, nil
	}
	blob, err := LoadFile(path)
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}
