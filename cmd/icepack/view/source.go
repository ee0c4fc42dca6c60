// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package view

import (
	"fmt"
	"os"

	"github.com/icepack-project/icepack/lib/archive"
	"github.com/icepack-project/icepack/lib/keyfile"
	"github.com/icepack-project/icepack/lib/secret"
)

// Entry is the format-neutral row the viewer displays. Both archive
// kinds flatten into it.
type Entry struct {
	// Name is the lookup key inside the archive.
	Name string

	// Type is the display type name ("module", "data", "option", ...).
	Type string

	// Compression is the stored payload's compression algorithm.
	Compression string

	// StoredSize and RawSize are the stored and decompressed payload
	// lengths.
	StoredSize uint32
	RawSize    uint32

	// HasPayload is false for marker rows (options, dependency
	// references), which have nothing to preview.
	HasPayload bool
}

// Source hands the viewer its entry list and payloads. Close releases
// the underlying file (and key material, for encrypted archives).
type Source interface {
	Title() string
	Entries() []Entry
	Payload(name string) ([]byte, error)
	Close() error
}

// OpenSource detects the archive format of path and returns a viewer
// source for it. keyPath may be empty; it is required only for
// encrypted module archives.
func OpenSource(path, keyPath string) (Source, error) {
	kind, err := archive.DetectKind(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case archive.KindContainer:
		return openContainerSource(path)
	case archive.KindModuleArchive:
		return openModuleSource(path, keyPath)
	default:
		return nil, fmt.Errorf("%s: no icepack archive found", path)
	}
}

type containerSource struct {
	path   string
	reader *archive.ContainerReader
	file   *os.File
}

func openContainerSource(path string) (*containerSource, error) {
	reader, file, err := archive.OpenContainerFile(path)
	if err != nil {
		return nil, err
	}
	return &containerSource{path: path, reader: reader, file: file}, nil
}

func (s *containerSource) Title() string {
	return fmt.Sprintf("%s — container, runtime %s", s.path, s.reader.RuntimeLib)
}

func (s *containerSource) Entries() []Entry {
	entries := make([]Entry, 0, len(s.reader.Entries))
	for _, entry := range s.reader.Entries {
		entries = append(entries, Entry{
			Name:        entry.Name,
			Type:        typeName(entry.TypeCode),
			Compression: entry.Compression.String(),
			StoredSize:  entry.StoredSize,
			RawSize:     entry.RawSize,
			HasPayload:  entry.StoredSize > 0 || entry.RawSize > 0,
		})
	}
	return entries
}

func (s *containerSource) Payload(name string) ([]byte, error) {
	entry, ok := s.reader.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no entry named %q", name)
	}
	return s.reader.Extract(s.file, entry)
}

func (s *containerSource) Close() error {
	return s.file.Close()
}

type moduleSource struct {
	path    string
	reader  *archive.ModuleReader
	file    *os.File
	keyFile *keyfile.File
}

func openModuleSource(path, keyPath string) (*moduleSource, error) {
	reader, file, err := archive.OpenModuleArchive(path)
	if err != nil {
		return nil, err
	}

	var keyFile *keyfile.File
	if keyPath != "" {
		keyFile, err = keyfile.Load(keyPath)
		if err != nil {
			file.Close()
			return nil, err
		}
	}
	if reader.Encrypted && keyFile == nil {
		file.Close()
		return nil, fmt.Errorf("%s is encrypted; supply the archive key file with --key", path)
	}

	return &moduleSource{path: path, reader: reader, file: file, keyFile: keyFile}, nil
}

func (s *moduleSource) Title() string {
	encryption := "plaintext"
	if s.reader.Encrypted {
		encryption = "encrypted"
	}
	return fmt.Sprintf("%s — module archive, %s", s.path, encryption)
}

func (s *moduleSource) Entries() []Entry {
	entries := make([]Entry, 0, len(s.reader.Entries))
	for _, entry := range s.reader.Entries {
		entries = append(entries, Entry{
			Name:        entry.Name,
			Type:        typeName(entry.TypeCode),
			Compression: entry.Compression.String(),
			StoredSize:  entry.StoredSize,
			RawSize:     entry.RawSize,
			HasPayload:  true,
		})
	}
	return entries
}

func (s *moduleSource) Payload(name string) ([]byte, error) {
	entry, ok := s.reader.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no module named %q", name)
	}
	var key *secret.Buffer
	if s.keyFile != nil {
		key = s.keyFile.Key
	}
	return s.reader.Extract(s.file, entry, key)
}

func (s *moduleSource) Close() error {
	err := s.file.Close()
	if s.keyFile != nil {
		s.keyFile.Close()
	}
	return err
}

// typeName maps a wire type code to a display name.
func typeName(code byte) string {
	switch code {
	case 'm':
		return "module"
	case 's':
		return "source"
	case 'b':
		return "binary"
	case 'x':
		return "data"
	case 'z':
		return "archive"
	case 'a':
		return "container"
	case 'Z':
		return "zip"
	case 'd':
		return "dependency"
	case 'o':
		return "option"
	default:
		return fmt.Sprintf("0x%02x", code)
	}
}
