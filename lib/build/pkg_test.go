// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/icepack-project/icepack/lib/archive"
	"github.com/icepack-project/icepack/lib/codeobj"
	"github.com/icepack-project/icepack/lib/manifest"
)

func buildContainer(t *testing.T, config Config, options ContainerOptions) *Container {
	t.Helper()
	if options.Compiler == nil {
		options.Compiler = &fakeCompiler{}
	}
	if options.RuntimeLib == "" {
		options.RuntimeLib = "libruntime.so.1"
	}
	node, err := NewContainer(config, options)
	if err != nil {
		t.Fatal(err)
	}
	if err := node.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	return node
}

func openContainer(t *testing.T, path string) (*archive.ContainerReader, *os.File) {
	t.Helper()
	reader, file, err := archive.OpenContainerFile(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { file.Close() })
	return reader, file
}

func TestContainerDuplicateNameKeepsFirst(t *testing.T) {
	config := testConfig(t)
	logger, logged := capturedLogger()
	config.Logger = logger
	sources := t.TempDir()

	first := writeFile(t, sources, "one/a.so", "FIRST LIBRARY")
	second := writeFile(t, sources, "two/a.so", "SECOND LIBRARY")
	table := manifest.NewTOC(
		manifest.Entry{Name: "a.so", Path: first, Type: manifest.Binary},
		manifest.Entry{Name: "a.so", Path: second, Type: manifest.Binary},
	)
	// The TOC already dropped the duplicate; feed raw entries through a
	// second table to exercise the container's own resolution.
	raw := manifest.NewTOC(manifest.Entry{Name: "a.so", Path: second, Type: manifest.Binary})

	node := buildContainer(t, config, ContainerOptions{
		Name:   "app",
		Inputs: []Input{InputEntries(table), InputEntries(raw)},
	})

	reader, file := openContainer(t, node.OutputPath())
	if len(reader.Entries) != 1 {
		t.Fatalf("container has %d entries, want 1", len(reader.Entries))
	}
	payload, err := reader.Extract(file, reader.Entries[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "FIRST LIBRARY" {
		t.Errorf("kept payload = %q, want the first occurrence", payload)
	}
	warning := logged.String()
	if !strings.Contains(warning, first) || !strings.Contains(warning, second) {
		t.Error("duplicate warning does not name both source paths")
	}
}

func TestContainerOptionRow(t *testing.T) {
	config := testConfig(t)
	node := buildContainer(t, config, ContainerOptions{
		Name:       "app",
		Directives: []string{"runtime-tmpdir /tmp/x"},
	})

	reader, _ := openContainer(t, node.OutputPath())
	entry, ok := reader.Lookup("runtime-tmpdir /tmp/x")
	if !ok {
		t.Fatal("option row is missing")
	}
	if entry.TypeCode != 'o' {
		t.Errorf("option type code = %c, want o", entry.TypeCode)
	}
	if entry.StoredSize != 0 || entry.RawSize != 0 {
		t.Errorf("option row has payload: stored %d raw %d", entry.StoredSize, entry.RawSize)
	}
}

func TestContainerOrderInsensitiveForBinaries(t *testing.T) {
	sources := t.TempDir()
	library := writeFile(t, sources, "lib.so", strings.Repeat("library bytes ", 50))
	data := writeFile(t, sources, "data.txt", strings.Repeat("data bytes ", 50))
	script := writeFile(t, sources, "main.src", "entry point")

	forward := []manifest.Entry{
		{Name: "main", Path: script, Type: manifest.Source},
		{Name: "lib.so", Path: library, Type: manifest.Binary},
		{Name: "data.txt", Path: data, Type: manifest.Data},
	}
	reversed := []manifest.Entry{
		{Name: "main", Path: script, Type: manifest.Source},
		{Name: "data.txt", Path: data, Type: manifest.Data},
		{Name: "lib.so", Path: library, Type: manifest.Binary},
	}

	var outputs [][]byte
	for _, entries := range [][]manifest.Entry{forward, reversed} {
		config := testConfig(t)
		node := buildContainer(t, config, ContainerOptions{
			Name:   "app",
			Inputs: []Input{InputEntries(manifest.NewTOC(entries...))},
		})
		raw, err := os.ReadFile(node.OutputPath())
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, raw)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("permuting non-code entries changed the container bytes")
	}
}

func TestContainerOrderSensitiveForScripts(t *testing.T) {
	sources := t.TempDir()
	first := writeFile(t, sources, "first.src", "script one")
	second := writeFile(t, sources, "second.src", "script two")

	forward := []manifest.Entry{
		{Name: "first", Path: first, Type: manifest.Source},
		{Name: "second", Path: second, Type: manifest.Source},
	}
	reversed := []manifest.Entry{
		{Name: "second", Path: second, Type: manifest.Source},
		{Name: "first", Path: first, Type: manifest.Source},
	}

	var outputs [][]byte
	for _, entries := range [][]manifest.Entry{forward, reversed} {
		config := testConfig(t)
		node := buildContainer(t, config, ContainerOptions{
			Name:   "app",
			Inputs: []Input{InputEntries(manifest.NewTOC(entries...))},
		})
		raw, err := os.ReadFile(node.OutputPath())
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, raw)
	}
	if bytes.Equal(outputs[0], outputs[1]) {
		t.Error("script load order did not influence the container bytes")
	}
}

func TestContainerReproducible(t *testing.T) {
	sources := t.TempDir()
	library := writeFile(t, sources, "lib.so", strings.Repeat("library bytes ", 50))
	script := writeFile(t, sources, "main.src", "entry point")
	table := manifest.NewTOC(
		manifest.Entry{Name: "main", Path: script, Type: manifest.Source},
		manifest.Entry{Name: "lib.so", Path: library, Type: manifest.Binary},
	)

	var outputs [][]byte
	for range 2 {
		config := testConfig(t)
		node := buildContainer(t, config, ContainerOptions{
			Name:   "app",
			Inputs: []Input{InputEntries(table)},
		})
		raw, err := os.ReadFile(node.OutputPath())
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, raw)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("identical inputs produced different containers")
	}
}

func TestContainerSuffixNormalization(t *testing.T) {
	config := testConfig(t)
	sources := t.TempDir()
	library := writeFile(t, sources, "fastmath.so", "EXTENSION")

	node := buildContainer(t, config, ContainerOptions{
		Name: "app",
		Inputs: []Input{InputEntries(manifest.NewTOC(
			manifest.Entry{Name: "fastmath", Path: library, Type: manifest.Extension},
		))},
	})

	reader, _ := openContainer(t, node.OutputPath())
	if _, ok := reader.Lookup("fastmath.so"); !ok {
		t.Error("extension name was not normalized with the library suffix")
	}
}

func TestContainerForwardsBinariesInOneDirMode(t *testing.T) {
	config := testConfig(t)
	sources := t.TempDir()
	library := writeFile(t, sources, "lib.so", "LIBRARY")
	data := writeFile(t, sources, "asset.dat", "ASSET")
	script := writeFile(t, sources, "main.src", "entry point")

	node := buildContainer(t, config, ContainerOptions{
		Name: "app",
		Inputs: []Input{InputEntries(manifest.NewTOC(
			manifest.Entry{Name: "main", Path: script, Type: manifest.Source},
			manifest.Entry{Name: "lib.so", Path: library, Type: manifest.Binary},
			manifest.Entry{Name: "asset.dat", Path: data, Type: manifest.Data},
		))},
		ExcludeBinaries: true,
	})

	reader, _ := openContainer(t, node.OutputPath())
	if _, ok := reader.Lookup("lib.so"); ok {
		t.Error("binary was packed despite one-dir mode")
	}
	if _, ok := reader.Lookup("main"); !ok {
		t.Error("script is missing from the runtime package")
	}
	forwarded := node.Forwarded()
	if !forwarded.Contains("lib.so") || !forwarded.Contains("asset.dat") {
		t.Error("diverted entries are not exposed for collection")
	}
}

func TestContainerScriptCompileFailureIsFatal(t *testing.T) {
	config := testConfig(t)
	sources := t.TempDir()
	script := writeFile(t, sources, "main.src", "entry point")

	node, err := NewContainer(config, ContainerOptions{
		Name:       "app",
		RuntimeLib: "libruntime.so.1",
		Compiler:   &fakeCompiler{fail: map[string]bool{"main": true}},
		Inputs: []Input{InputEntries(manifest.NewTOC(
			manifest.Entry{Name: "main", Path: script, Type: manifest.Source},
		))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := node.Build(context.Background()); err == nil {
		t.Fatal("entry-point compile failure did not fail the build")
	}
}

func TestContainerMissingSourceIsFatal(t *testing.T) {
	config := testConfig(t)
	node, err := NewContainer(config, ContainerOptions{
		Name:       "app",
		RuntimeLib: "libruntime.so.1",
		Compiler:   &fakeCompiler{},
		Inputs: []Input{InputEntries(manifest.NewTOC(
			manifest.Entry{Name: "gone.dat", Path: "/nonexistent/gone.dat", Type: manifest.Data},
		))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := node.Build(context.Background()); err == nil {
		t.Fatal("missing source file did not fail the build")
	}
}

func TestContainerDropsBundleMembers(t *testing.T) {
	config := testConfig(t)
	sources := t.TempDir()
	bundle := writeFile(t, sources, "frameworks/Widgets.bundle", "BUNDLE")
	script := writeFile(t, sources, "main.src", "entry point")

	node := buildContainer(t, config, ContainerOptions{
		Name: "app",
		Inputs: []Input{InputEntries(manifest.NewTOC(
			manifest.Entry{Name: "main", Path: script, Type: manifest.Source},
			// Resolves inside the bundle path and does not exist on
			// disk: collected via the bundle, dropped here.
			manifest.Entry{Name: "widgets.so", Path: bundle + "/Contents/widgets.so", Type: manifest.Binary},
		))},
		Bundles: manifest.NewTOC(
			manifest.Entry{Name: "Widgets.bundle", Path: bundle, Type: manifest.Zip},
		),
	})

	reader, _ := openContainer(t, node.OutputPath())
	if _, ok := reader.Lookup("widgets.so"); ok {
		t.Error("bundle member was packed individually")
	}
}

func TestContainerRebuildSkip(t *testing.T) {
	config := testConfig(t)
	sources := t.TempDir()
	script := writeFile(t, sources, "main.src", "entry point")
	table := manifest.NewTOC(manifest.Entry{Name: "main", Path: script, Type: manifest.Source})
	compiler := &fakeCompiler{}

	options := ContainerOptions{
		Name:     "app",
		Compiler: compiler,
		Inputs:   []Input{InputEntries(table)},
	}
	buildContainer(t, config, options)
	compiled := compiler.count
	buildContainer(t, config, options)
	if compiler.count != compiled {
		t.Errorf("rebuild compiled %d entries, want 0", compiler.count-compiled)
	}
}

func TestContainerRecordsRuntimeLib(t *testing.T) {
	config := testConfig(t)
	node := buildContainer(t, config, ContainerOptions{
		Name:       "app",
		RuntimeLib: "libruntime.so.1",
		Directives: []string{"ignore-signals"},
	})

	reader, _ := openContainer(t, node.OutputPath())
	if reader.RuntimeLib != "libruntime.so.1" {
		t.Errorf("cookie runtime library = %q", reader.RuntimeLib)
	}
}

func TestContainerEmbedsGeneratedKeyModule(t *testing.T) {
	config := testConfig(t)
	sources := t.TempDir()

	blob := codeobj.Blob{Body: []byte("app.key")}
	encoded, err := blob.Encode()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(sources, KeyModuleName+".icb")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatal(err)
	}

	compiler := &fakeCompiler{}
	node := buildContainer(t, config, ContainerOptions{
		Name: "app",
		Inputs: []Input{InputEntries(manifest.NewTOC(
			manifest.Entry{Name: KeyModuleName, Path: path, Type: manifest.Module},
		))},
		Compiler: compiler,
	})

	reader, file := openContainer(t, node.OutputPath())
	entry, ok := reader.Lookup(KeyModuleName)
	if !ok {
		t.Fatal("key module row is missing")
	}
	payload, err := reader.Extract(file, entry)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := codeobj.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded.Body) != "app.key" {
		t.Errorf("key module body = %q", decoded.Body)
	}
	if compiler.count != 0 {
		t.Errorf("precompiled blob went through the compiler %d times", compiler.count)
	}
}
