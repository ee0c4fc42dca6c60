// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/icepack-project/icepack/lib/manifest"
)

const sampleAnalysis = `{
	// produced by the runtime-side analysis tool
	"name": "app",
	"script": "src/main.src",
	"runtime_lib": "libruntime.so.1",
	"code_cache": "cache",
	"scripts": [
		{"name": "main", "path": "src/main.src", "type": "SOURCE"},
	],
	"modules": [
		{"name": "util", "path": "src/util.src", "type": "MODULE"},
	],
	"binaries": [
		{"name": "libdep.so", "path": "/usr/lib/libdep.so", "type": "BINARY"},
	],
	"datas": [],
	"bundles": [],
}`

func TestParseAnalysis(t *testing.T) {
	analysis, err := ParseAnalysis([]byte(sampleAnalysis))
	if err != nil {
		t.Fatal(err)
	}
	if analysis.Name != "app" || analysis.RuntimeLib != "libruntime.so.1" {
		t.Errorf("identity fields = %q %q", analysis.Name, analysis.RuntimeLib)
	}
	if analysis.Scripts.Len() != 1 || analysis.Modules.Len() != 1 || analysis.Binaries.Len() != 1 {
		t.Error("tables were not populated")
	}
	entry, _ := analysis.Modules.Lookup("util")
	if entry.Type != manifest.Module {
		t.Errorf("module type = %s", entry.Type)
	}
}

func TestParseAnalysisRejectsUnknownKeys(t *testing.T) {
	document := `{"script": "main.src", "runtime_lib": "lib.so", "moduels": []}`
	if _, err := ParseAnalysis([]byte(document)); err == nil {
		t.Fatal("typoed table name was accepted")
	}
}

func TestParseAnalysisRequiresScript(t *testing.T) {
	document := `{"runtime_lib": "lib.so"}`
	_, err := ParseAnalysis([]byte(document))
	if err == nil || !strings.Contains(err.Error(), "script") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseAnalysisRequiresRuntimeLib(t *testing.T) {
	document := `{"script": "main.src"}`
	_, err := ParseAnalysis([]byte(document))
	if err == nil || !strings.Contains(err.Error(), "runtime library") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseAnalysisValidatesEntries(t *testing.T) {
	document := `{
		"script": "main.src",
		"runtime_lib": "lib.so",
		"modules": [{"name": "util", "path": "util.src", "type": "MODULEZ"}]
	}`
	if _, err := ParseAnalysis([]byte(document)); err == nil {
		t.Fatal("unknown entry type was accepted")
	}
}

func TestLoadAnalysisResolvesRelativePaths(t *testing.T) {
	directory := t.TempDir()
	path := writeFile(t, directory, "app.analysis", sampleAnalysis)

	analysis, err := LoadAnalysis(path)
	if err != nil {
		t.Fatal(err)
	}
	if analysis.Script != filepath.Join(directory, "src", "main.src") {
		t.Errorf("script = %q", analysis.Script)
	}
	if analysis.CodeCache != filepath.Join(directory, "cache") {
		t.Errorf("code cache = %q", analysis.CodeCache)
	}
	entry, _ := analysis.Modules.Lookup("util")
	if entry.Path != filepath.Join(directory, "src", "util.src") {
		t.Errorf("module path = %q", entry.Path)
	}
	// Absolute paths pass through untouched.
	binary, _ := analysis.Binaries.Lookup("libdep.so")
	if binary.Path != "/usr/lib/libdep.so" {
		t.Errorf("binary path = %q", binary.Path)
	}
}

func TestResolveInputsRejectsAmbiguousUnion(t *testing.T) {
	table := manifest.NewTOC(manifest.Entry{Name: "x", Path: "/x", Type: manifest.Data})
	node := &stubNode{}

	if _, err := resolveInputs([]Input{{Entries: table, Node: node}}); err == nil {
		t.Error("input with both arms set was accepted")
	}
	if _, err := resolveInputs([]Input{{}}); err == nil {
		t.Error("empty input was accepted")
	}
}

func TestResolveInputsFlattensInOrder(t *testing.T) {
	table := manifest.NewTOC(manifest.Entry{Name: "x", Path: "/x", Type: manifest.Data})
	node := &stubNode{entry: manifest.Entry{Name: "app.mar", Path: "/work/app.mar", Type: manifest.Archive}}

	entries, err := resolveInputs([]Input{InputEntries(table), InputNode(node)})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name != "x" || entries[1].Name != "app.mar" {
		t.Errorf("resolved entries = %v", entries)
	}
}

type stubNode struct {
	entry manifest.Entry
}

func (n *stubNode) OutputPath() string          { return n.entry.Path }
func (n *stubNode) OutputEntry() manifest.Entry { return n.entry }
