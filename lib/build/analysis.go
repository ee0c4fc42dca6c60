// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/icepack-project/icepack/lib/manifest"
)

// Analysis is one executable's parsed analysis document. The analysis
// step itself is external to icepack: a runtime-side tool walks the
// application's import graph and emits this document; icepack only
// consumes it.
type Analysis struct {
	// Name is the executable name; defaults to the job name when the
	// document leaves it empty.
	Name string

	// Script is the primary entry-point script path. Multipack dedup
	// derives per-executable identifiers from the common prefix of
	// these paths.
	Script string

	// RuntimeLib is the base name of the runtime shared library,
	// recorded in the container cookie for the loader.
	RuntimeLib string

	// CodeCache is a directory of pre-compiled code blobs keyed by
	// module name. Modules found here skip the compiler.
	CodeCache string

	// Identifier overrides the derived multipack identifier.
	Identifier string

	// DisplayPath overrides the path shown for this executable in
	// dependency references.
	DisplayPath string

	// Scripts, Modules, Binaries, Datas, and Bundles are the analysis
	// result tables. Scripts are SOURCE entries in load order; Bundles
	// are library bundles collected whole.
	Scripts  *manifest.TOC
	Modules  *manifest.TOC
	Binaries *manifest.TOC
	Datas    *manifest.TOC
	Bundles  *manifest.TOC

	// Dependencies accumulates DEPENDENCY entries produced by the
	// multipack dedup pass. Empty for single-package builds.
	Dependencies *manifest.TOC
}

// analysisDocument is the on-disk JSONC shape.
type analysisDocument struct {
	Name        string           `json:"name"`
	Script      string           `json:"script"`
	RuntimeLib  string           `json:"runtime_lib"`
	CodeCache   string           `json:"code_cache"`
	Identifier  string           `json:"identifier"`
	DisplayPath string           `json:"display_path"`
	Scripts     []manifest.Entry `json:"scripts"`
	Modules     []manifest.Entry `json:"modules"`
	Binaries    []manifest.Entry `json:"binaries"`
	Datas       []manifest.Entry `json:"datas"`
	Bundles     []manifest.Entry `json:"bundles"`
}

// ParseAnalysis parses an analysis document. The document is JSONC;
// unknown keys are rejected so a typoed table name cannot silently
// drop a whole entry class.
func ParseAnalysis(data []byte) (*Analysis, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()

	var document analysisDocument
	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("parsing analysis document: %w", err)
	}
	if document.Script == "" {
		return nil, fmt.Errorf("analysis document has no entry-point script")
	}
	if document.RuntimeLib == "" {
		return nil, fmt.Errorf("analysis document has no runtime library name")
	}

	analysis := &Analysis{
		Name:         document.Name,
		Script:       document.Script,
		RuntimeLib:   document.RuntimeLib,
		CodeCache:    document.CodeCache,
		Identifier:   document.Identifier,
		DisplayPath:  document.DisplayPath,
		Scripts:      manifest.NewTOC(document.Scripts...),
		Modules:      manifest.NewTOC(document.Modules...),
		Binaries:     manifest.NewTOC(document.Binaries...),
		Datas:        manifest.NewTOC(document.Datas...),
		Bundles:      manifest.NewTOC(document.Bundles...),
		Dependencies: manifest.NewTOC(),
	}
	for _, table := range []*manifest.TOC{
		analysis.Scripts, analysis.Modules, analysis.Binaries,
		analysis.Datas, analysis.Bundles,
	} {
		if err := table.Validate(); err != nil {
			return nil, err
		}
	}
	return analysis, nil
}

// LoadAnalysis reads and parses an analysis document from disk.
// Relative source paths in the document resolve against the document's
// own directory.
func LoadAnalysis(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading analysis document: %w", err)
	}
	analysis, err := ParseAnalysis(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	analysis.Script = resolvePath(base, analysis.Script)
	if analysis.CodeCache != "" {
		analysis.CodeCache = resolvePath(base, analysis.CodeCache)
	}
	for _, table := range []**manifest.TOC{
		&analysis.Scripts, &analysis.Modules, &analysis.Binaries,
		&analysis.Datas, &analysis.Bundles,
	} {
		*table = resolveEntryPaths(base, *table)
	}
	return analysis, nil
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func resolveEntryPaths(base string, table *manifest.TOC) *manifest.TOC {
	resolved := manifest.NewTOC()
	for _, entry := range table.Entries() {
		entry.Path = resolvePath(base, entry.Path)
		resolved.Append(entry)
	}
	return resolved
}

// Node is the common surface of a built node: where its output landed
// and how to reference that output as an entry in a downstream table.
type Node interface {
	// OutputPath is the absolute path of the node's output artifact.
	OutputPath() string

	// OutputEntry is the manifest entry a downstream node uses to
	// embed or collect this node's output.
	OutputEntry() manifest.Entry
}

// Input is a tagged union: a build node consumes either a table of raw
// manifest entries or the output of another built node, never both in
// one value. Exactly one field is set.
type Input struct {
	Entries *manifest.TOC
	Node    Node
}

// InputEntries wraps a table as a node input.
func InputEntries(entries *manifest.TOC) Input {
	return Input{Entries: entries}
}

// InputNode wraps a built node as a node input.
func InputNode(node Node) Input {
	return Input{Node: node}
}

// resolve flattens inputs into a single entry list, in input order.
func resolveInputs(inputs []Input) ([]manifest.Entry, error) {
	var entries []manifest.Entry
	for i, input := range inputs {
		switch {
		case input.Entries != nil && input.Node != nil:
			return nil, fmt.Errorf("input %d sets both an entry table and a node", i)
		case input.Entries != nil:
			entries = append(entries, input.Entries.Entries()...)
		case input.Node != nil:
			entries = append(entries, input.Node.OutputEntry())
		default:
			return nil, fmt.Errorf("input %d is empty", i)
		}
	}
	return entries, nil
}
