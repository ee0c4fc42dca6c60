// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/icepack-project/icepack/lib/codec"
	"github.com/icepack-project/icepack/lib/secret"
)

// Module archive (.mar) format. Unlike the payload container, a module
// archive is always a standalone file, so it carries a conventional
// leading header: 8-byte magic "ICEMAR" + version + reserved, 1-byte
// flags (bit0: entries encrypted), 3 reserved zero bytes, 4-byte entry
// count, 8-byte index offset (patched after the payloads are written).
// Payload blobs follow, then a deterministic-CBOR index sorted by
// name. All integers are little-endian. The loader's importer reads
// this format at process start, so it is a wire contract.
const (
	// ModuleHeaderSize is the fixed leading header size.
	ModuleHeaderSize = 24

	// moduleFlagEncrypted marks an archive whose entry payloads are
	// encrypted. The key that unlocks them travels outside the
	// archive, with the loader's embedded bootstrap set.
	moduleFlagEncrypted byte = 1 << 0
)

// moduleMagic is the 8-byte module archive signature: "ICEMAR" +
// version byte + reserved byte. Version 1 is the initial format.
var moduleMagic = [8]byte{'I', 'C', 'E', 'M', 'A', 'R', 1, 0}

// ModuleIndexEntry is one row of the module archive index.
type ModuleIndexEntry struct {
	// Name is the module's import name.
	Name string `cbor:"name"`

	// TypeCode is the single-byte manifest type code ('m' or 's').
	TypeCode byte `cbor:"type"`

	// Compression is the algorithm the payload is compressed with
	// (before encryption, when the archive is encrypted).
	Compression CompressionTag `cbor:"compression"`

	// Offset is the payload position from the start of the file.
	Offset uint64 `cbor:"offset"`

	// StoredSize is the payload length as stored (after compression
	// and, if enabled, encryption).
	StoredSize uint32 `cbor:"stored"`

	// RawSize is the code blob length before compression.
	RawSize uint32 `cbor:"raw"`
}

// ModuleWriter writes a module archive. Payloads are written in Add
// order; the index is sorted by name at Finish, so callers that add
// entries in sorted order produce fully deterministic output.
type ModuleWriter struct {
	writer   io.WriteSeeker
	key      *secret.Buffer
	offset   uint64
	index    []ModuleIndexEntry
	finished bool
}

// NewModuleWriter starts a module archive on w. A non-nil key enables
// per-entry encryption; the key is borrowed and not closed. The
// header is written immediately with a zero index offset and patched
// by Finish.
func NewModuleWriter(w io.WriteSeeker, key *secret.Buffer) (*ModuleWriter, error) {
	var header [ModuleHeaderSize]byte
	copy(header[0:8], moduleMagic[:])
	if key != nil {
		header[8] = moduleFlagEncrypted
	}
	if _, err := w.Write(header[:]); err != nil {
		return nil, fmt.Errorf("writing module archive header: %w", err)
	}
	return &ModuleWriter{writer: w, key: key, offset: ModuleHeaderSize}, nil
}

// Add compresses, optionally encrypts, and writes one code blob.
func (mw *ModuleWriter) Add(name string, typeCode byte, blob []byte) error {
	if mw.finished {
		return fmt.Errorf("module writer already finished")
	}

	stored, tag, err := CompressAuto(blob)
	if err != nil {
		return fmt.Errorf("compressing module %q: %w", name, err)
	}

	if mw.key != nil {
		stored, err = EncryptEntry(mw.key, name, stored)
		if err != nil {
			return fmt.Errorf("encrypting module %q: %w", name, err)
		}
	}

	if _, err := mw.writer.Write(stored); err != nil {
		return fmt.Errorf("writing module %q payload: %w", name, err)
	}

	mw.index = append(mw.index, ModuleIndexEntry{
		Name:        name,
		TypeCode:    typeCode,
		Compression: tag,
		Offset:      mw.offset,
		StoredSize:  uint32(len(stored)),
		RawSize:     uint32(len(blob)),
	})
	mw.offset += uint64(len(stored))
	return nil
}

// Count returns the number of entries added so far.
func (mw *ModuleWriter) Count() int {
	return len(mw.index)
}

// Finish writes the CBOR index and patches the header with the entry
// count and index offset.
func (mw *ModuleWriter) Finish() error {
	if mw.finished {
		return fmt.Errorf("module writer already finished")
	}
	mw.finished = true

	slices.SortFunc(mw.index, func(a, b ModuleIndexEntry) int {
		return strings.Compare(a.Name, b.Name)
	})

	indexData, err := codec.Marshal(mw.index)
	if err != nil {
		return fmt.Errorf("encoding module archive index: %w", err)
	}
	if _, err := mw.writer.Write(indexData); err != nil {
		return fmt.Errorf("writing module archive index: %w", err)
	}

	var patch [12]byte
	binary.LittleEndian.PutUint32(patch[0:], uint32(len(mw.index)))
	binary.LittleEndian.PutUint64(patch[4:], mw.offset)
	if _, err := mw.writer.Seek(12, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to patch module archive header: %w", err)
	}
	if _, err := mw.writer.Write(patch[:]); err != nil {
		return fmt.Errorf("patching module archive header: %w", err)
	}
	// Leave the stream positioned at EOF so callers that keep
	// appending (nested layouts) see consistent behavior.
	if _, err := mw.writer.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seeking to end of module archive: %w", err)
	}
	return nil
}

// ModuleReader reads a module archive.
type ModuleReader struct {
	// Entries is the parsed index sorted by name.
	Entries []ModuleIndexEntry

	// Encrypted reports whether entry payloads are encrypted.
	Encrypted bool
}

// ReadModuleArchive parses the header and index from r. The reader
// must be positioned at the start of the archive.
func ReadModuleArchive(r io.ReadSeeker) (*ModuleReader, error) {
	var header [ModuleHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading module archive header: %w", err)
	}
	if [8]byte(header[0:8]) != moduleMagic {
		if string(header[0:6]) == "ICEMAR" {
			return nil, fmt.Errorf("module archive version %d is not supported (this code supports version %d)",
				header[6], moduleMagic[6])
		}
		return nil, fmt.Errorf("not a module archive (invalid magic bytes)")
	}

	flags := header[8]
	entryCount := binary.LittleEndian.Uint32(header[12:])
	indexOffset := binary.LittleEndian.Uint64(header[16:])
	if indexOffset < ModuleHeaderSize {
		return nil, fmt.Errorf("module archive index offset %d is inside the header", indexOffset)
	}

	if _, err := r.Seek(int64(indexOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to module archive index: %w", err)
	}
	indexData, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading module archive index: %w", err)
	}

	var entries []ModuleIndexEntry
	if err := codec.Unmarshal(indexData, &entries); err != nil {
		return nil, fmt.Errorf("decoding module archive index: %w", err)
	}
	if uint32(len(entries)) != entryCount {
		return nil, fmt.Errorf("module archive index has %d entries, header records %d", len(entries), entryCount)
	}

	return &ModuleReader{
		Entries:   entries,
		Encrypted: flags&moduleFlagEncrypted != 0,
	}, nil
}

// OpenModuleArchive opens a .mar file and parses its index. The
// returned file must be kept open while extracting entries.
func OpenModuleArchive(path string) (*ModuleReader, *os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening module archive: %w", err)
	}
	reader, err := ReadModuleArchive(file)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return reader, file, nil
}

// Lookup returns the index entry with the given name.
func (mr *ModuleReader) Lookup(name string) (ModuleIndexEntry, bool) {
	for _, entry := range mr.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return ModuleIndexEntry{}, false
}

// Extract reads, decrypts (when the archive is encrypted and a key is
// supplied), and decompresses one entry's code blob.
func (mr *ModuleReader) Extract(r io.ReaderAt, entry ModuleIndexEntry, key *secret.Buffer) ([]byte, error) {
	stored := make([]byte, entry.StoredSize)
	if _, err := r.ReadAt(stored, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("reading module %q payload: %w", entry.Name, err)
	}

	if mr.Encrypted {
		if key == nil {
			return nil, fmt.Errorf("module %q is encrypted and no archive key was supplied", entry.Name)
		}
		var err error
		stored, err = DecryptEntry(key, entry.Name, stored)
		if err != nil {
			return nil, err
		}
	}

	blob, err := Decompress(stored, entry.Compression, int(entry.RawSize))
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", entry.Name, err)
	}
	return blob, nil
}
