// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectKindModuleArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.mar")
	writeSampleModuleArchive(t, path, nil)

	kind, err := DetectKind(path)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindModuleArchive {
		t.Errorf("kind = %s", kind)
	}
}

func TestDetectKindContainer(t *testing.T) {
	data := buildSampleContainer(t, "libruntime.so.1")
	path := filepath.Join(t.TempDir(), "app.pkg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	kind, err := DetectKind(path)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindContainer {
		t.Errorf("kind = %s", kind)
	}
}

func TestDetectKindAppendedContainer(t *testing.T) {
	data := buildSampleContainer(t, "libruntime.so.1")
	path := filepath.Join(t.TempDir(), "app")
	carrier := append([]byte("ELF LOADER BYTES"), data...)
	if err := os.WriteFile(path, carrier, 0o755); err != nil {
		t.Fatal(err)
	}

	kind, err := DetectKind(path)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindContainer {
		t.Errorf("kind = %s", kind)
	}
}

func TestDetectKindForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}

	kind, err := DetectKind(path)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindNone {
		t.Errorf("kind = %s", kind)
	}
}
