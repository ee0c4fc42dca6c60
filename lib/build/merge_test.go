// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"path/filepath"
	"testing"

	"github.com/icepack-project/icepack/lib/manifest"
)

// testAnalysis builds a minimal analysis whose binaries table holds
// the given entries.
func testAnalysis(script string, binaries ...manifest.Entry) *Analysis {
	return &Analysis{
		Script:       script,
		RuntimeLib:   "libruntime.so.1",
		Scripts:      manifest.NewTOC(manifest.Entry{Name: filepath.Base(script), Path: script, Type: manifest.Source}),
		Modules:      manifest.NewTOC(),
		Binaries:     manifest.NewTOC(binaries...),
		Datas:        manifest.NewTOC(),
		Bundles:      manifest.NewTOC(),
		Dependencies: manifest.NewTOC(),
	}
}

func TestMergeSharedPayloadAppearsOnce(t *testing.T) {
	sources := t.TempDir()
	shared := writeFile(t, sources, "libshared.so", "SHARED")
	sharedEntry := manifest.Entry{Name: "libshared.so", Path: shared, Type: manifest.Binary}

	analyses := []*Analysis{
		testAnalysis(filepath.Join(sources, "apps/first/main.src"), sharedEntry),
		testAnalysis(filepath.Join(sources, "apps/second/main.src"), sharedEntry),
		testAnalysis(filepath.Join(sources, "apps/third/main.src"), sharedEntry),
	}
	if err := Merge(analyses, nil); err != nil {
		t.Fatal(err)
	}

	payloads, references := 0, 0
	for _, analysis := range analyses {
		if analysis.Binaries.Contains("libshared.so") {
			payloads++
		}
		references += analysis.Dependencies.Len()
	}
	if payloads != 1 {
		t.Errorf("shared payload appears %d times, want 1", payloads)
	}
	if references != 2 {
		t.Errorf("%d dependency references, want 2", references)
	}
}

func TestMergeFirstAnalysisPrivileged(t *testing.T) {
	sources := t.TempDir()
	shared := writeFile(t, sources, "libshared.so", "SHARED")
	sharedEntry := manifest.Entry{Name: "libshared.so", Path: shared, Type: manifest.Binary}

	first := testAnalysis(filepath.Join(sources, "apps/first/main.src"), sharedEntry)
	second := testAnalysis(filepath.Join(sources, "apps/second/main.src"), sharedEntry)
	if err := Merge([]*Analysis{first, second}, nil); err != nil {
		t.Fatal(err)
	}

	if !first.Binaries.Contains("libshared.so") || first.Dependencies.Len() != 0 {
		t.Error("first analysis lost content")
	}
	if second.Binaries.Contains("libshared.so") {
		t.Error("second analysis kept the shared payload")
	}
}

func TestMergeReferenceShape(t *testing.T) {
	sources := t.TempDir()
	shared := writeFile(t, sources, "libshared.so", "SHARED")
	sharedEntry := manifest.Entry{Name: "libshared.so", Path: shared, Type: manifest.Binary}

	first := testAnalysis(filepath.Join(sources, "apps/first/main.src"), sharedEntry)
	second := testAnalysis(filepath.Join(sources, "apps/second/main.src"), sharedEntry)
	if err := Merge([]*Analysis{first, second}, nil); err != nil {
		t.Fatal(err)
	}

	references := second.Dependencies.Entries()
	if len(references) != 1 {
		t.Fatalf("second analysis has %d references, want 1", len(references))
	}
	reference := references[0]
	if reference.Type != manifest.Dependency {
		t.Errorf("reference type = %s", reference.Type)
	}
	// Relative path from second/main to first/main, original internal
	// name after the colon, original name as the lookup path.
	if reference.Name != "../first/main:libshared.so" {
		t.Errorf("reference name = %q", reference.Name)
	}
	if reference.Path != "libshared.so" {
		t.Errorf("reference path = %q", reference.Path)
	}
}

func TestMergeIdentifierOverride(t *testing.T) {
	sources := t.TempDir()
	shared := writeFile(t, sources, "libshared.so", "SHARED")
	sharedEntry := manifest.Entry{Name: "libshared.so", Path: shared, Type: manifest.Binary}

	first := testAnalysis(filepath.Join(sources, "apps/first/main.src"), sharedEntry)
	first.Identifier = "tools/primary"
	second := testAnalysis(filepath.Join(sources, "apps/second/main.src"), sharedEntry)
	if err := Merge([]*Analysis{first, second}, nil); err != nil {
		t.Fatal(err)
	}

	reference := second.Dependencies.Entries()[0]
	if reference.Name != "../tools/primary:libshared.so" {
		t.Errorf("reference name = %q", reference.Name)
	}
}

func TestMergeDistinctContentUntouched(t *testing.T) {
	sources := t.TempDir()
	one := writeFile(t, sources, "libone.so", "ONE")
	two := writeFile(t, sources, "libtwo.so", "TWO")

	first := testAnalysis(filepath.Join(sources, "apps/first/main.src"),
		manifest.Entry{Name: "libone.so", Path: one, Type: manifest.Binary})
	second := testAnalysis(filepath.Join(sources, "apps/second/main.src"),
		manifest.Entry{Name: "libtwo.so", Path: two, Type: manifest.Binary})
	if err := Merge([]*Analysis{first, second}, nil); err != nil {
		t.Fatal(err)
	}

	if !second.Binaries.Contains("libtwo.so") || second.Dependencies.Len() != 0 {
		t.Error("unshared content was rewritten")
	}
}

func TestCommonScriptPrefix(t *testing.T) {
	prefix := commonScriptPrefix([]string{
		"/srv/project/apps/first/main.src",
		"/srv/project/apps/second/main.src",
		"/srv/project/tools/extra/run.src",
	})
	if prefix != "/srv/project" {
		t.Errorf("common prefix = %q", prefix)
	}
}
