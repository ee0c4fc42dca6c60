// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"os"
)

// Kind identifies which archive format a file carries.
type Kind int

const (
	// KindNone means no icepack format was recognized.
	KindNone Kind = iota

	// KindModuleArchive is a standalone .mar file.
	KindModuleArchive

	// KindContainer is a payload container: a sidecar .pkg file or a
	// loader executable with a container at its tail.
	KindContainer
)

// String returns a short human-readable format name.
func (k Kind) String() string {
	switch k {
	case KindModuleArchive:
		return "module archive"
	case KindContainer:
		return "payload container"
	default:
		return "unknown"
	}
}

// DetectKind sniffs the archive format of a file. Module archives are
// recognized by their leading magic; anything else is probed for a
// container cookie at its tail, which finds both sidecar .pkg files
// and frozen executables.
func DetectKind(path string) (Kind, error) {
	file, err := os.Open(path)
	if err != nil {
		return KindNone, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	var magic [8]byte
	if _, err := io.ReadFull(file, magic[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return KindNone, nil
		}
		return KindNone, fmt.Errorf("reading %s: %w", path, err)
	}
	if string(magic[0:6]) == "ICEMAR" {
		return KindModuleArchive, nil
	}

	info, err := file.Stat()
	if err != nil {
		return KindNone, fmt.Errorf("stat %s: %w", path, err)
	}
	if _, err := findCookie(file, info.Size()); err == nil {
		return KindContainer, nil
	}
	return KindNone, nil
}
