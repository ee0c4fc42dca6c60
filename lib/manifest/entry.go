// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the entry model shared by every stage of the
// freeze pipeline. An analysis run (external to icepack) describes the
// application as tables of entries; the build nodes consume, filter, and
// reorder those tables and finally serialize them into archive indexes.
//
// An entry is a triple: the name a file will have inside the frozen
// application, the path it currently has on the build machine, and a
// type that decides how the payload is treated (compiled, compressed,
// cached, or carried as an empty marker).
package manifest

import (
	"fmt"
	"strings"
)

// Type classifies a manifest entry. The string values appear verbatim
// in analysis documents and manifest files on disk.
type Type string

const (
	// Module is a compiled (or compilable) module packed into the
	// module archive, or packed standalone as a code blob.
	Module Type = "MODULE"

	// Source is an application entry-point script. Sources are
	// compiled at container-write time and their relative order is
	// load order, so it is never disturbed.
	Source Type = "SOURCE"

	// Extension is a native extension library the runtime loads by
	// name. Stored as a file, never inside the module archive.
	Extension Type = "EXTENSION"

	// Binary is a shared library dependency discovered by analysis.
	Binary Type = "BINARY"

	// Data is an arbitrary file carried verbatim.
	Data Type = "DATA"

	// Archive is a nested module archive (.mar). Entries inside it
	// are already compressed, so the archive itself is stored raw.
	Archive Type = "ARCHIVE"

	// Container is a nested payload container (.pkg), stored raw.
	Container Type = "CONTAINER"

	// Zip is a zip or library bundle collected whole.
	Zip Type = "ZIP"

	// Executable is a built loader executable.
	Executable Type = "EXECUTABLE"

	// Dependency is a reference to a payload that lives in another
	// executable's container (multipack builds). It has no payload of
	// its own.
	Dependency Type = "DEPENDENCY"

	// Option is a loader directive such as "runtime-tmpdir /tmp/x".
	// The directive text is the entry name; there is no payload.
	Option Type = "OPTION"
)

// Code returns the single-byte type code stored in container indexes.
// The loader dispatches on these codes, so they are a wire contract:
// 'm' module, 's' source, 'z' nested module archive, 'a' nested
// container, 'x' data, 'Z' zip, 'd' dependency, 'o' option, and 'b'
// for everything loaded by the dynamic linker (extensions, shared
// libraries, executables).
func (t Type) Code() byte {
	switch t {
	case Module:
		return 'm'
	case Source:
		return 's'
	case Archive:
		return 'z'
	case Container:
		return 'a'
	case Data:
		return 'x'
	case Zip:
		return 'Z'
	case Dependency:
		return 'd'
	case Option:
		return 'o'
	case Extension, Binary, Executable:
		return 'b'
	default:
		return 'b'
	}
}

// Compressed reports whether payloads of this type are compressed by
// default when written into a container. Nested archives compress
// their own entries, zips are already deflated, and dependency/option
// rows have no payload at all.
func (t Type) Compressed() bool {
	switch t {
	case Module, Source, Extension, Binary, Data, Executable:
		return true
	default:
		return false
	}
}

// Loadable reports whether the type names a native object the dynamic
// linker resolves by file name. Loadable entries get suffix
// normalization and strip/compact processing.
func (t Type) Loadable() bool {
	return t == Extension || t == Binary
}

// ParseType validates a type string from a manifest document.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Module, Source, Extension, Binary, Data, Archive,
		Container, Zip, Executable, Dependency, Option:
		return t, nil
	}
	return "", fmt.Errorf("unknown manifest entry type %q", s)
}

// Entry is one row of a manifest table: the name inside the frozen
// application, the backing path on the build machine, and the type.
// Option and Dependency entries may have an empty Path.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Type Type   `json:"type"`
}

// Validate checks the entry for structural problems: an empty name,
// an unknown type, or a missing path on a type that requires one.
func (e Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("manifest entry has empty name")
	}
	if _, err := ParseType(string(e.Type)); err != nil {
		return fmt.Errorf("manifest entry %q: %w", e.Name, err)
	}
	if e.Path == "" && e.Type != Option && e.Type != Dependency {
		return fmt.Errorf("manifest entry %q (%s) has no source path", e.Name, e.Type)
	}
	return nil
}

// String renders the entry for logs and error messages.
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteByte(' ')
	b.WriteString(e.Name)
	if e.Path != "" {
		b.WriteString(" <- ")
		b.WriteString(e.Path)
	}
	return b.String()
}
