// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/icepack-project/icepack/lib/hosttool"
)

func TestApplicationManifestDefaults(t *testing.T) {
	xml := ApplicationManifest("app", false, false)
	if !strings.Contains(xml, `level="asInvoker"`) {
		t.Error("default elevation is not asInvoker")
	}
	if !strings.Contains(xml, `uiAccess="false"`) {
		t.Error("default uiAccess is not false")
	}
	if !strings.Contains(xml, `name="app"`) {
		t.Error("assembly identity does not carry the executable name")
	}
}

func TestApplicationManifestUACFlags(t *testing.T) {
	xml := ApplicationManifest("app", true, true)
	if !strings.Contains(xml, `level="requireAdministrator"`) {
		t.Error("uac_admin did not request elevation")
	}
	if !strings.Contains(xml, `uiAccess="true"`) {
		t.Error("uac_uiaccess was not applied")
	}
}

// fakeEditorTool writes a shell script standing in for the resource
// editor: the "add" subcommand fails with the missing-resource-table
// message, everything else succeeds and logs its subcommand.
func fakeEditorTool(t *testing.T) (hosttool.Tool, string) {
	t.Helper()
	directory := t.TempDir()
	script := filepath.Join(directory, "fake-editor")
	log := filepath.Join(directory, "log")

	content := `#!/bin/sh
echo "$1" >> ` + log + `
case "$1" in
add) echo "error: no resource table in image" >&2; exit 1;;
*) exit 0;;
esac
`
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return hosttool.Tool{Name: "editor", Path: script}, log
}

func TestApplyResourcesRawFallback(t *testing.T) {
	tool, log := fakeEditorTool(t)
	editor := ResourceEditor{Tool: tool}
	payload := writeFile(t, t.TempDir(), "blob.dat", "RAW")

	job := JobConfig{
		Name: "app",
		Resources: []ResourceConfig{
			{Path: payload, Type: "RCDATA", Name: "CONFIG"},
		},
	}
	if err := applyResources(context.Background(), editor, "app.exe", job); err != nil {
		t.Fatalf("explicit selector did not fall back to raw: %v", err)
	}

	logged, err := os.ReadFile(log)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logged), "add-raw") {
		t.Error("raw fallback was not attempted")
	}
}

func TestApplyResourcesWildcardCannotFallBack(t *testing.T) {
	tool, _ := fakeEditorTool(t)
	editor := ResourceEditor{Tool: tool}
	payload := writeFile(t, t.TempDir(), "blob.res", "RES")

	job := JobConfig{
		Name: "app",
		Resources: []ResourceConfig{
			{Path: payload, Type: "*", Name: "*"},
		},
	}
	err := applyResources(context.Background(), editor, "app.exe", job)
	if err == nil {
		t.Fatal("wildcard selector recovered from a missing resource table")
	}
}

func TestApplyResourcesUnconfiguredEditor(t *testing.T) {
	editor := ResourceEditor{}

	// No edits requested: fine.
	if err := applyResources(context.Background(), editor, "app.exe", JobConfig{Name: "app"}); err != nil {
		t.Fatal(err)
	}
	// Edits requested without a tool: configuration error.
	job := JobConfig{Name: "app", Icon: "app.ico"}
	if err := applyResources(context.Background(), editor, "app.exe", job); err == nil {
		t.Fatal("resource edits without an editor tool were accepted")
	}
}

func TestResourceEditorClassifiesMissingTable(t *testing.T) {
	tool, _ := fakeEditorTool(t)
	editor := ResourceEditor{Tool: tool}
	payload := writeFile(t, t.TempDir(), "blob.res", "RES")

	err := editor.AddResource(context.Background(), "app.exe", ResourceConfig{Path: payload})
	if err == nil {
		t.Fatal("add against a tableless image succeeded")
	}
	if !errors.Is(err, ErrNoResourceTable) {
		t.Errorf("error %q was not classified", err)
	}
}
