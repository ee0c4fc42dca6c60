// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/icepack-project/icepack/lib/hosttool"
)

// ErrNoResourceTable reports that the loader image carries no PE
// resource table, so resources cannot be replaced in place. Raw
// resource additions with an explicit type and name recover by
// creating the resource fresh; every other edit treats this as fatal.
var ErrNoResourceTable = errors.New("executable has no resource table")

// noResourceTableMarker is the stderr fragment the resource editor
// emits for a missing resource table.
const noResourceTableMarker = "no resource table"

// ResourceEditor drives the external PE resource editor. All edits
// mutate the executable in place.
type ResourceEditor struct {
	Tool hosttool.Tool
}

// Configured reports whether an editor executable is available.
func (e ResourceEditor) Configured() bool {
	return e.Tool.Path != ""
}

// SetIcon replaces the executable's icon group from a .ico file.
func (e ResourceEditor) SetIcon(ctx context.Context, executable, icon string) error {
	_, err := e.Tool.Run(ctx, "icon", executable, icon)
	return e.classify(err)
}

// SetVersionInfo applies a version-info resource built from a version
// description file.
func (e ResourceEditor) SetVersionInfo(ctx context.Context, executable, versionFile string) error {
	_, err := e.Tool.Run(ctx, "version", executable, versionFile)
	return e.classify(err)
}

// AddResource adds or updates resources from a source file per the
// resource selector. Wildcard selectors copy every matching resource
// of the source file.
func (e ResourceEditor) AddResource(ctx context.Context, executable string, resource ResourceConfig) error {
	arguments := []string{"add", executable, resource.Path}
	if resource.Type != "" {
		arguments = append(arguments, "--type", resource.Type)
	}
	if resource.Name != "" {
		arguments = append(arguments, "--name", resource.Name)
	}
	if resource.Locale != "" {
		arguments = append(arguments, "--locale", resource.Locale)
	}
	_, err := e.Tool.Run(ctx, arguments...)
	return e.classify(err)
}

// AddRawResource creates a resource from the raw bytes of a file,
// bypassing resource-table parsing of the source. Used as the fallback
// when the source file itself has no resource table.
func (e ResourceEditor) AddRawResource(ctx context.Context, executable string, resource ResourceConfig) error {
	arguments := []string{"add-raw", executable, resource.Path, "--type", resource.Type, "--name", resource.Name}
	if resource.Locale != "" {
		arguments = append(arguments, "--locale", resource.Locale)
	}
	_, err := e.Tool.Run(ctx, arguments...)
	return e.classify(err)
}

// classify maps the editor's missing-resource-table failure onto the
// sentinel so callers can distinguish it from real failures.
func (e ResourceEditor) classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(hosttool.Stderr(err)), noResourceTableMarker) {
		return fmt.Errorf("%w: %v", ErrNoResourceTable, err)
	}
	return err
}

// applyResources runs the job's resource edits against the executable
// in spec order: icon, version info, then raw resources. A raw
// resource whose source has no resource table is retried as a raw
// byte resource when its selector names an explicit type and name;
// wildcard selectors cannot recover that way.
func applyResources(ctx context.Context, editor ResourceEditor, executable string, job JobConfig) error {
	if !editor.Configured() {
		if job.Icon != "" || job.VersionFile != "" || len(job.Resources) > 0 {
			return fmt.Errorf("job %q configures resource edits but no resource editor tool is configured", job.Name)
		}
		return nil
	}

	if job.Icon != "" {
		if err := editor.SetIcon(ctx, executable, job.Icon); err != nil {
			return fmt.Errorf("setting icon from %s: %w", job.Icon, err)
		}
	}
	if job.VersionFile != "" {
		if err := editor.SetVersionInfo(ctx, executable, job.VersionFile); err != nil {
			return fmt.Errorf("applying version info from %s: %w", job.VersionFile, err)
		}
	}
	for _, resource := range job.Resources {
		err := editor.AddResource(ctx, executable, resource)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrNoResourceTable) && explicitSelector(resource) {
			if err := editor.AddRawResource(ctx, executable, resource); err != nil {
				return fmt.Errorf("adding raw resource from %s: %w", resource.Path, err)
			}
			continue
		}
		return fmt.Errorf("adding resource from %s: %w", resource.Path, err)
	}
	return nil
}

// explicitSelector reports whether the resource names a concrete type
// and name (no wildcards).
func explicitSelector(resource ResourceConfig) bool {
	return resource.Type != "" && resource.Type != "*" &&
		resource.Name != "" && resource.Name != "*"
}

// ApplicationManifest renders the Windows application manifest XML for
// an executable: execution level from the UAC flags, a fixed
// supported-OS list, and common-controls v6 so themed widgets work.
func ApplicationManifest(name string, uacAdmin, uacUIAccess bool) string {
	level := "asInvoker"
	if uacAdmin {
		level = "requireAdministrator"
	}
	uiAccess := "false"
	if uacUIAccess {
		uiAccess = "true"
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<assembly xmlns="urn:schemas-microsoft-com:asm.v1" manifestVersion="1.0">` + "\n")
	fmt.Fprintf(&b, `  <assemblyIdentity name="%s" processorArchitecture="*" version="1.0.0.0" type="win32"/>`+"\n", name)
	b.WriteString(`  <trustInfo xmlns="urn:schemas-microsoft-com:asm.v3">` + "\n")
	b.WriteString("    <security>\n      <requestedPrivileges>\n")
	fmt.Fprintf(&b, `        <requestedExecutionLevel level="%s" uiAccess="%s"/>`+"\n", level, uiAccess)
	b.WriteString("      </requestedPrivileges>\n    </security>\n  </trustInfo>\n")
	b.WriteString(`  <compatibility xmlns="urn:schemas-microsoft-com:compatibility.v1">` + "\n")
	b.WriteString("    <application>\n")
	// Windows 8.1 and Windows 10/11 GUIDs.
	b.WriteString(`      <supportedOS Id="{1f676c76-80e1-4239-95bb-83d0f6d0da78}"/>` + "\n")
	b.WriteString(`      <supportedOS Id="{8e0f7a12-bfb3-4fe8-b9a5-48fd50a15a9a}"/>` + "\n")
	b.WriteString("    </application>\n  </compatibility>\n")
	b.WriteString(`  <dependency>` + "\n")
	b.WriteString("    <dependentAssembly>\n")
	b.WriteString(`      <assemblyIdentity type="win32" name="Microsoft.Windows.Common-Controls" version="6.0.0.0" processorArchitecture="*" publicKeyToken="6595b64144ccf1df" language="*"/>` + "\n")
	b.WriteString("    </dependentAssembly>\n  </dependency>\n")
	b.WriteString("</assembly>\n")
	return b.String()
}
