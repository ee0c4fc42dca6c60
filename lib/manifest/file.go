// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a TOC. Manifest files are authored as
// JSONC (JSON extended with // line comments, /* block comments */,
// and trailing commas); the canonical form is a flat array of
// {name, path, type} objects.
func Parse(data []byte) (*TOC, error) {
	stripped := jsonc.ToJSON(data)

	var entries []Entry
	if err := json.Unmarshal(stripped, &entries); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	toc := NewTOC(entries...)
	if err := toc.Validate(); err != nil {
		return nil, err
	}
	return toc, nil
}

// ReadFile reads a JSONC manifest file from disk and parses it.
func ReadFile(path string) (*TOC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	toc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return toc, nil
}

// WriteFile writes the table as indented JSON. The output is valid
// JSONC, so it round-trips through ReadFile.
func WriteFile(path string, toc *TOC) error {
	data, err := json.MarshalIndent(toc.Entries(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
