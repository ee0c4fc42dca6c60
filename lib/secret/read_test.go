// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFromPathTrimsWhitespace(t *testing.T) {
	directory := t.TempDir()
	for name, content := range map[string]string{
		"plain":    "AGE-SECRET-KEY-1EXAMPLE",
		"newline":  "AGE-SECRET-KEY-1EXAMPLE\n",
		"padded":   "  AGE-SECRET-KEY-1EXAMPLE  \n",
		"interior": "line one\nline two\n",
	} {
		path := filepath.Join(directory, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		buffer, err := ReadFromPath(path)
		if err != nil {
			t.Fatalf("ReadFromPath(%s): %v", name, err)
		}
		got := buffer.String()
		buffer.Close()

		if name == "interior" {
			// Interior newlines survive; only the edges are trimmed.
			if got != "line one\nline two" {
				t.Errorf("ReadFromPath(%s) = %q", name, got)
			}
		} else if got != "AGE-SECRET-KEY-1EXAMPLE" {
			t.Errorf("ReadFromPath(%s) = %q", name, got)
		}
	}
}

func TestReadFromPathMissingFile(t *testing.T) {
	if _, err := ReadFromPath(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("missing file did not error")
	}
}

func TestReadFromPathRejectsEmptySecret(t *testing.T) {
	directory := t.TempDir()
	for name, content := range map[string]string{
		"empty":      "",
		"whitespace": "   \n\t\n",
	} {
		path := filepath.Join(directory, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFromPath(path); err == nil {
			t.Errorf("%s file was accepted", name)
		}
	}
}
