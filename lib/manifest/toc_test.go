// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendKeepsFirstOccurrence(t *testing.T) {
	toc := NewTOC()
	if !toc.Append(Entry{Name: "libfoo.so", Path: "/a/libfoo.so", Type: Binary}) {
		t.Fatal("first append returned false")
	}
	if toc.Append(Entry{Name: "libfoo.so", Path: "/b/libfoo.so", Type: Binary}) {
		t.Fatal("duplicate append returned true")
	}

	entry, ok := toc.Lookup("libfoo.so")
	if !ok {
		t.Fatal("entry not found after append")
	}
	if entry.Path != "/a/libfoo.so" {
		t.Fatalf("duplicate replaced the first occurrence: path = %q", entry.Path)
	}
	if toc.Len() != 1 {
		t.Fatalf("table has %d entries, want 1", toc.Len())
	}
}

func TestExtendPreservesOrderAcrossTables(t *testing.T) {
	first := NewTOC(
		Entry{Name: "app", Path: "/src/app.py", Type: Source},
		Entry{Name: "util", Path: "/src/util.py", Type: Module},
	)
	second := NewTOC(
		Entry{Name: "util", Path: "/other/util.py", Type: Module},
		Entry{Name: "extra", Path: "/src/extra.py", Type: Module},
	)

	merged := NewTOC()
	merged.Extend(first)
	merged.Extend(second)

	names := make([]string, 0, merged.Len())
	for _, entry := range merged.Entries() {
		names = append(names, entry.Name)
	}
	want := []string{"app", "util", "extra"}
	if len(names) != len(want) {
		t.Fatalf("merged table has %d entries, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}

	entry, _ := merged.Lookup("util")
	if entry.Path != "/src/util.py" {
		t.Fatalf("second table overwrote first: util path = %q", entry.Path)
	}
}

func TestSubtractRemovesByNamePreservingOrder(t *testing.T) {
	toc := NewTOC(
		Entry{Name: "a", Path: "/a", Type: Module},
		Entry{Name: "b", Path: "/b", Type: Module},
		Entry{Name: "c", Path: "/c", Type: Module},
	)
	exclude := NewTOC(
		Entry{Name: "b", Path: "/elsewhere/b", Type: Module},
	)

	result := toc.Subtract(exclude)
	if result.Len() != 2 {
		t.Fatalf("subtract left %d entries, want 2", result.Len())
	}
	entries := result.Entries()
	if entries[0].Name != "a" || entries[1].Name != "c" {
		t.Fatalf("subtract disturbed order: %v", entries)
	}
	if toc.Len() != 3 {
		t.Fatal("subtract mutated the receiver")
	}
}

func TestSortedByNameDoesNotMutateReceiver(t *testing.T) {
	toc := NewTOC(
		Entry{Name: "zeta", Path: "/z", Type: Module},
		Entry{Name: "alpha", Path: "/a", Type: Module},
	)

	sorted := toc.SortedByName()
	if sorted.Entries()[0].Name != "alpha" {
		t.Fatalf("sorted first entry = %q, want alpha", sorted.Entries()[0].Name)
	}
	if toc.Entries()[0].Name != "zeta" {
		t.Fatal("SortedByName mutated the receiver")
	}
}

func TestTypeCodes(t *testing.T) {
	codes := map[Type]byte{
		Module:     'm',
		Source:     's',
		Extension:  'b',
		Binary:     'b',
		Data:       'x',
		Archive:    'z',
		Container:  'a',
		Zip:        'Z',
		Executable: 'b',
		Dependency: 'd',
		Option:     'o',
	}
	for typ, want := range codes {
		if got := typ.Code(); got != want {
			t.Errorf("%s code = %c, want %c", typ, got, want)
		}
	}
}

func TestCompressionDefaults(t *testing.T) {
	compressed := []Type{Module, Source, Extension, Binary, Data, Executable}
	for _, typ := range compressed {
		if !typ.Compressed() {
			t.Errorf("%s should compress by default", typ)
		}
	}
	raw := []Type{Archive, Container, Zip, Dependency, Option}
	for _, typ := range raw {
		if typ.Compressed() {
			t.Errorf("%s should be stored raw", typ)
		}
	}
}

func TestValidateRejectsPathlessBinary(t *testing.T) {
	err := Entry{Name: "libfoo.so", Type: Binary}.Validate()
	if err == nil {
		t.Fatal("pathless BINARY entry validated")
	}

	if err := (Entry{Name: "runtime-tmpdir /tmp/x", Type: Option}).Validate(); err != nil {
		t.Fatalf("pathless OPTION entry rejected: %v", err)
	}
	if err := (Entry{Name: "x", Path: "/x", Type: "BOGUS"}).Validate(); err == nil {
		t.Fatal("unknown type validated")
	}
}

func TestManifestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binaries.jsonc")

	toc := NewTOC(
		Entry{Name: "libssl.so", Path: "/usr/lib/libssl.so", Type: Binary},
		Entry{Name: "assets/logo.png", Path: "/src/logo.png", Type: Data},
	)
	if err := WriteFile(path, toc); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded %d entries, want 2", loaded.Len())
	}
	entry, ok := loaded.Lookup("libssl.so")
	if !ok || entry.Type != Binary || entry.Path != "/usr/lib/libssl.so" {
		t.Fatalf("loaded entry mismatch: %+v", entry)
	}
}

func TestParseAcceptsCommentsAndTrailingCommas(t *testing.T) {
	source := `[
  // entry-point script
  {"name": "app", "path": "/src/app.py", "type": "SOURCE"},
  {"name": "util", "path": "/src/util.py", "type": "MODULE"}, // trailing comma below
]`
	toc, err := Parse([]byte(source))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if toc.Len() != 2 {
		t.Fatalf("parsed %d entries, want 2", toc.Len())
	}
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	if _, err := Parse([]byte(`[{"name": "", "path": "/x", "type": "DATA"}]`)); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := Parse([]byte(`{"name": "x"}`)); err == nil {
		t.Fatal("non-array document accepted")
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.jsonc"))
	if err == nil {
		t.Fatal("missing file did not error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error does not preserve not-exist cause: %v", err)
	}
}
