// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Payload container (.pkg) format. The container is designed to be
// appended to an arbitrary carrier file (the loader executable), so
// unlike the module archive it has no leading header: payload blobs
// come first, then a binary index, then a fixed 64-byte cookie that is
// the last thing in the file. The loader finds the cookie by seeking
// to EOF-64 and, failing that, scanning the final window backward.
// All integers are little-endian. This layout is a loader contract.
const (
	// CookieSize is the fixed size of the trailing cookie:
	// 8-byte magic + 8-byte container length + 8-byte index offset
	// + 4-byte index length + 4-byte entry count + 32-byte runtime
	// library name (NUL padded).
	CookieSize = 64

	// cookieScanWindow is how far back from EOF the reader searches
	// for the cookie magic when it is not at EOF-CookieSize (e.g.
	// when a code signature or zip comment trails the container).
	cookieScanWindow = 4096

	// RuntimeLibNameSize is the fixed cookie field for the runtime
	// shared-library base name. Names must fit with a terminating NUL.
	RuntimeLibNameSize = 32

	// indexEntryFixedSize is the fixed portion of one index row:
	// 4-byte row length + 8-byte offset + 4-byte stored size
	// + 4-byte raw size + 1-byte compression tag + 1-byte type code.
	// The entry name follows, unterminated; its length is the row
	// length minus this constant.
	indexEntryFixedSize = 22
)

// containerMagic is the 8-byte cookie signature: "ICEPKG" + version
// byte + reserved byte. Version 1 is the initial format.
var containerMagic = [8]byte{'I', 'C', 'E', 'P', 'K', 'G', 1, 0}

// IndexEntry describes one entry of a payload container.
type IndexEntry struct {
	// Name is the entry's internal name (the lookup key).
	Name string

	// TypeCode is the single-byte type code from manifest.Type.Code.
	TypeCode byte

	// Compression is the algorithm the stored payload is compressed
	// with.
	Compression CompressionTag

	// Offset is the payload position relative to the container start
	// (the first payload byte is offset 0, regardless of how many
	// carrier bytes precede the container in the file).
	Offset uint64

	// StoredSize is the payload length as stored.
	StoredSize uint32

	// RawSize is the payload length after decompression.
	RawSize uint32
}

// ContainerWriter streams a payload container to an underlying writer.
// Payloads are written as they are added; Finish writes the index and
// the trailing cookie. The writer never seeks, so it can append
// directly to a loader executable.
type ContainerWriter struct {
	writer     io.Writer
	runtimeLib string
	offset     uint64
	index      []IndexEntry
	finished   bool
}

// NewContainerWriter creates a writer that emits a container to w.
// runtimeLib is the base name of the runtime shared library recorded
// in the cookie (for example "libpython3.11.so"); it must fit the
// fixed cookie field with a terminating NUL.
func NewContainerWriter(w io.Writer, runtimeLib string) (*ContainerWriter, error) {
	if len(runtimeLib) >= RuntimeLibNameSize {
		return nil, fmt.Errorf("runtime library name %q is %d bytes, cookie field holds at most %d",
			runtimeLib, len(runtimeLib), RuntimeLibNameSize-1)
	}
	return &ContainerWriter{writer: w, runtimeLib: runtimeLib}, nil
}

// Add compresses (when compress is true and the probe finds it
// worthwhile) and writes one payload, recording its index row.
func (cw *ContainerWriter) Add(name string, typeCode byte, payload []byte, compress bool) error {
	if cw.finished {
		return fmt.Errorf("container writer already finished")
	}

	stored := payload
	tag := CompressionNone
	if compress {
		var err error
		stored, tag, err = CompressAuto(payload)
		if err != nil {
			return fmt.Errorf("compressing entry %q: %w", name, err)
		}
	}

	if _, err := cw.writer.Write(stored); err != nil {
		return fmt.Errorf("writing entry %q payload: %w", name, err)
	}

	cw.index = append(cw.index, IndexEntry{
		Name:        name,
		TypeCode:    typeCode,
		Compression: tag,
		Offset:      cw.offset,
		StoredSize:  uint32(len(stored)),
		RawSize:     uint32(len(payload)),
	})
	cw.offset += uint64(len(stored))
	return nil
}

// AddMarker records a zero-payload index row. Option directives and
// multipack dependency references are carried this way: the loader
// needs the row, there are no bytes behind it.
func (cw *ContainerWriter) AddMarker(name string, typeCode byte) error {
	if cw.finished {
		return fmt.Errorf("container writer already finished")
	}
	cw.index = append(cw.index, IndexEntry{
		Name:     name,
		TypeCode: typeCode,
		Offset:   cw.offset,
	})
	return nil
}

// Count returns the number of index rows recorded so far.
func (cw *ContainerWriter) Count() int {
	return len(cw.index)
}

// Finish writes the index and the trailing cookie. The writer cannot
// be used afterwards.
func (cw *ContainerWriter) Finish() error {
	if cw.finished {
		return fmt.Errorf("container writer already finished")
	}
	cw.finished = true

	indexOffset := cw.offset

	var index bytes.Buffer
	for _, entry := range cw.index {
		var fixed [indexEntryFixedSize]byte
		binary.LittleEndian.PutUint32(fixed[0:], uint32(indexEntryFixedSize+len(entry.Name)))
		binary.LittleEndian.PutUint64(fixed[4:], entry.Offset)
		binary.LittleEndian.PutUint32(fixed[12:], entry.StoredSize)
		binary.LittleEndian.PutUint32(fixed[16:], entry.RawSize)
		fixed[20] = byte(entry.Compression)
		fixed[21] = entry.TypeCode
		index.Write(fixed[:])
		index.WriteString(entry.Name)
	}

	if _, err := cw.writer.Write(index.Bytes()); err != nil {
		return fmt.Errorf("writing container index: %w", err)
	}

	containerLength := indexOffset + uint64(index.Len()) + CookieSize

	var cookie [CookieSize]byte
	copy(cookie[0:8], containerMagic[:])
	binary.LittleEndian.PutUint64(cookie[8:], containerLength)
	binary.LittleEndian.PutUint64(cookie[16:], indexOffset)
	binary.LittleEndian.PutUint32(cookie[24:], uint32(index.Len()))
	binary.LittleEndian.PutUint32(cookie[28:], uint32(len(cw.index)))
	copy(cookie[32:], cw.runtimeLib)

	if _, err := cw.writer.Write(cookie[:]); err != nil {
		return fmt.Errorf("writing container cookie: %w", err)
	}
	return nil
}

// ContainerReader reads a payload container from the tail of a file.
// The container may be the whole file (sidecar .pkg) or appended to a
// loader executable; the cookie's recorded length locates the
// container start either way.
type ContainerReader struct {
	// Entries is the parsed index in serialized order.
	Entries []IndexEntry

	// RuntimeLib is the runtime shared-library base name from the
	// cookie.
	RuntimeLib string

	// base is the absolute file offset of the container start.
	base int64

	// size is the total container length including index and cookie.
	size int64
}

// OpenContainer locates and parses the container index at the tail of
// a file of the given size.
func OpenContainer(r io.ReaderAt, fileSize int64) (*ContainerReader, error) {
	cookieStart, err := findCookie(r, fileSize)
	if err != nil {
		return nil, err
	}

	var cookie [CookieSize]byte
	if _, err := r.ReadAt(cookie[:], cookieStart); err != nil {
		return nil, fmt.Errorf("reading container cookie: %w", err)
	}

	containerLength := int64(binary.LittleEndian.Uint64(cookie[8:]))
	indexOffset := int64(binary.LittleEndian.Uint64(cookie[16:]))
	indexLength := int64(binary.LittleEndian.Uint32(cookie[24:]))
	entryCount := binary.LittleEndian.Uint32(cookie[28:])

	runtimeLib := string(bytes.TrimRight(cookie[32:], "\x00"))

	base := cookieStart + CookieSize - containerLength
	if base < 0 {
		return nil, fmt.Errorf("container length %d exceeds file span before cookie", containerLength)
	}
	if indexOffset+indexLength+CookieSize != containerLength {
		return nil, fmt.Errorf("container cookie is inconsistent: index at %d length %d, container length %d",
			indexOffset, indexLength, containerLength)
	}

	indexData := make([]byte, indexLength)
	if _, err := r.ReadAt(indexData, base+indexOffset); err != nil {
		return nil, fmt.Errorf("reading container index: %w", err)
	}

	entries := make([]IndexEntry, 0, entryCount)
	for position := 0; position < len(indexData); {
		if len(indexData)-position < indexEntryFixedSize {
			return nil, fmt.Errorf("container index truncated at byte %d", position)
		}
		row := indexData[position:]
		rowLength := int(binary.LittleEndian.Uint32(row[0:]))
		if rowLength < indexEntryFixedSize || position+rowLength > len(indexData) {
			return nil, fmt.Errorf("container index row at byte %d has invalid length %d", position, rowLength)
		}

		tag := CompressionTag(row[20])
		if tag > CompressionZstd {
			return nil, fmt.Errorf("container index row at byte %d has unsupported compression tag %d", position, tag)
		}

		entries = append(entries, IndexEntry{
			Name:        string(row[indexEntryFixedSize:rowLength]),
			TypeCode:    row[21],
			Compression: tag,
			Offset:      binary.LittleEndian.Uint64(row[4:]),
			StoredSize:  binary.LittleEndian.Uint32(row[12:]),
			RawSize:     binary.LittleEndian.Uint32(row[16:]),
		})
		position += rowLength
	}

	if uint32(len(entries)) != entryCount {
		return nil, fmt.Errorf("container index has %d rows, cookie records %d", len(entries), entryCount)
	}

	return &ContainerReader{
		Entries:    entries,
		RuntimeLib: runtimeLib,
		base:       base,
		size:       containerLength,
	}, nil
}

// OpenContainerFile opens a file and parses the container at its tail.
// The returned file must be kept open while extracting entries.
func OpenContainerFile(path string) (*ContainerReader, *os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening container: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("stat container: %w", err)
	}
	reader, err := OpenContainer(file, info.Size())
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return reader, file, nil
}

// TotalSize returns the container length in bytes, including the
// index and cookie.
func (cr *ContainerReader) TotalSize() int64 {
	return cr.size
}

// Lookup returns the index entry with the given name.
func (cr *ContainerReader) Lookup(name string) (IndexEntry, bool) {
	for _, entry := range cr.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return IndexEntry{}, false
}

// Extract reads and decompresses one entry's payload.
func (cr *ContainerReader) Extract(r io.ReaderAt, entry IndexEntry) ([]byte, error) {
	stored := make([]byte, entry.StoredSize)
	if _, err := r.ReadAt(stored, cr.base+int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("reading entry %q payload: %w", entry.Name, err)
	}

	raw, err := Decompress(stored, entry.Compression, int(entry.RawSize))
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", entry.Name, err)
	}
	return raw, nil
}

// findCookie returns the absolute offset of the cookie. The fast path
// checks EOF-CookieSize; the fallback scans the final window backward
// for the magic, which tolerates trailing bytes added after assembly
// (code signatures, zip comments).
func findCookie(r io.ReaderAt, fileSize int64) (int64, error) {
	if fileSize < CookieSize {
		return 0, fmt.Errorf("file is %d bytes, smaller than a container cookie", fileSize)
	}

	var magic [8]byte
	tail := fileSize - CookieSize
	if _, err := r.ReadAt(magic[:], tail); err != nil {
		return 0, fmt.Errorf("reading cookie magic: %w", err)
	}
	if magic == containerMagic {
		return tail, nil
	}

	windowSize := int64(cookieScanWindow)
	if windowSize > fileSize {
		windowSize = fileSize
	}
	window := make([]byte, windowSize)
	windowStart := fileSize - windowSize
	if _, err := r.ReadAt(window, windowStart); err != nil {
		return 0, fmt.Errorf("scanning for cookie: %w", err)
	}

	for position := len(window) - CookieSize; position >= 0; position-- {
		if bytes.Equal(window[position:position+8], containerMagic[:]) {
			return windowStart + int64(position), nil
		}
	}
	return 0, fmt.Errorf("no container cookie found in the final %d bytes", windowSize)
}
