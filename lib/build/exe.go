// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/icepack-project/icepack/lib/hosttool"
	"github.com/icepack-project/icepack/lib/manifest"
)

// containerSectionName is the ELF section the container is embedded
// into on linux one-file builds. The loader reads it back by name.
const containerSectionName = "icepack"

// ExecutableOptions configures an executable assembly node.
type ExecutableOptions struct {
	// Job carries the per-executable build settings (name, one-file,
	// console/debug variant, resource edits, UAC flags).
	Job JobConfig

	// Container is the built payload container node.
	Container Node

	// Objcopy is the section editor for the linux one-file embed.
	Objcopy hosttool.Tool

	// Editor drives Windows resource edits.
	Editor ResourceEditor
}

// Executable assembles the final loader executable: a loader variant
// copied from the prebuilt loader directory, resource-edited when
// targeting windows, with the container attached by the strategy the
// platform and packaging mode call for.
type Executable struct {
	config  Config
	options ExecutableOptions

	outputPath string
	recordPath string
	loaderPath string
}

// executableParams is the recorded parameter set for staleness.
type executableParams struct {
	Platform    string `cbor:"platform"`
	OneFile     bool   `cbor:"onefile"`
	Console     bool   `cbor:"console"`
	Debug       bool   `cbor:"debug"`
	UACAdmin    bool   `cbor:"uac_admin"`
	UACUIAccess bool   `cbor:"uac_uiaccess"`
}

// NewExecutable creates the node. The loader variant is resolved
// immediately so a missing loader fails before any work happens.
func NewExecutable(config Config, options ExecutableOptions) (*Executable, error) {
	if options.Job.Name == "" {
		return nil, fmt.Errorf("executable needs a name")
	}
	if options.Container == nil {
		return nil, fmt.Errorf("executable %q needs a container", options.Job.Name)
	}
	config = config.withDefaults()

	node := &Executable{config: config, options: options}

	console := options.Job.ConsoleEnabled()
	if !console && config.Platform == "linux" {
		config.Logger.Warn("windowed mode has no effect on linux, using the console loader",
			"executable", options.Job.Name)
		console = true
	}
	loaderPath, err := resolveLoader(config, console, options.Job.Debug)
	if err != nil {
		return nil, fmt.Errorf("executable %q: %w", options.Job.Name, err)
	}
	node.loaderPath = loaderPath

	name := options.Job.Name + config.executableSuffix()
	if options.Job.OneFile {
		node.outputPath = filepath.Join(config.DistPath, name)
	} else {
		node.outputPath = filepath.Join(config.WorkPath, name)
	}
	node.recordPath = filepath.Join(config.WorkPath, options.Job.Name+".exe.record")
	return node, nil
}

// resolveLoader locates the prebuilt loader variant for the selected
// console/debug combination: loader, loader_d, loaderw, loaderw_d,
// with an .exe suffix on windows, under <LoaderDir>/<platform>/.
func resolveLoader(config Config, console, debug bool) (string, error) {
	variant := "loader"
	if !console {
		variant += "w"
	}
	if debug {
		variant += "_d"
	}
	variant += config.executableSuffix()

	path := filepath.Join(config.LoaderDir, config.Platform, variant)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("loader variant %s not found at %s", variant, path)
	}
	return path, nil
}

// OutputPath implements Node.
func (e *Executable) OutputPath() string {
	return e.outputPath
}

// OutputEntry implements Node.
func (e *Executable) OutputEntry() manifest.Entry {
	return manifest.Entry{
		Name: filepath.Base(e.outputPath),
		Path: e.outputPath,
		Type: manifest.Executable,
	}
}

// SidecarEntries returns the files a collection directory must carry
// next to a one-dir executable: the container sidecar and, on
// windows, the application manifest. Valid after Build.
func (e *Executable) SidecarEntries() *manifest.TOC {
	entries := manifest.NewTOC()
	if e.options.Job.OneFile {
		return entries
	}
	entries.Append(manifest.Entry{
		Name: e.options.Job.Name + ".pkg",
		Path: e.sidecarPath(),
		Type: manifest.Container,
	})
	if e.config.Platform == "windows" {
		entries.Append(manifest.Entry{
			Name: filepath.Base(e.manifestPath()),
			Path: e.manifestPath(),
			Type: manifest.Data,
		})
	}
	return entries
}

func (e *Executable) sidecarPath() string {
	return filepath.Join(filepath.Dir(e.outputPath), e.options.Job.Name+".pkg")
}

func (e *Executable) manifestPath() string {
	return e.outputPath + ".manifest"
}

func (e *Executable) params() executableParams {
	return executableParams{
		Platform:    e.config.Platform,
		OneFile:     e.options.Job.OneFile,
		Console:     e.options.Job.ConsoleEnabled(),
		Debug:       e.options.Job.Debug,
		UACAdmin:    e.options.Job.UACAdmin,
		UACUIAccess: e.options.Job.UACUIAccess,
	}
}

// inputs lists everything whose change must trigger reassembly: the
// loader, the container, and the resource source files.
func (e *Executable) inputs() []manifest.Entry {
	entries := []manifest.Entry{
		{Name: filepath.Base(e.loaderPath), Path: e.loaderPath, Type: manifest.Executable},
		e.options.Container.OutputEntry(),
	}
	if e.options.Job.Icon != "" {
		entries = append(entries, manifest.Entry{Name: "icon", Path: e.options.Job.Icon, Type: manifest.Data})
	}
	if e.options.Job.VersionFile != "" {
		entries = append(entries, manifest.Entry{Name: "version-file", Path: e.options.Job.VersionFile, Type: manifest.Data})
	}
	for i, resource := range e.options.Job.Resources {
		entries = append(entries, manifest.Entry{
			Name: fmt.Sprintf("resource-%d", i),
			Path: resource.Path,
			Type: manifest.Data,
		})
	}
	return entries
}

// Build assembles the executable, or reuses the existing output when
// nothing tracked has changed.
func (e *Executable) Build(ctx context.Context) error {
	logger := e.config.Logger.With("executable", e.options.Job.Name)

	stale, reason := checkStale(e.outputPath, e.recordPath, "executable", e.params(), e.inputs())
	if !stale && !e.options.Job.OneFile {
		if _, err := os.Stat(e.sidecarPath()); err != nil {
			stale, reason = true, "container sidecar missing"
		}
	}
	if !stale {
		logger.Info("executable is up to date, skipping")
		return nil
	}
	logger.Info("assembling executable", "reason", reason, "loader", filepath.Base(e.loaderPath))

	if err := copyFile(e.loaderPath, e.outputPath, 0o755); err != nil {
		return fmt.Errorf("copying loader: %w", err)
	}

	if e.config.Platform == "windows" {
		if err := applyResources(ctx, e.options.Editor, e.outputPath, e.options.Job); err != nil {
			return fmt.Errorf("executable %q: %w", e.options.Job.Name, err)
		}
		if !e.options.Job.OneFile {
			manifestXML := ApplicationManifest(e.options.Job.Name, e.options.Job.UACAdmin, e.options.Job.UACUIAccess)
			if err := os.WriteFile(e.manifestPath(), []byte(manifestXML), 0o644); err != nil {
				return fmt.Errorf("writing application manifest: %w", err)
			}
		}
	}

	if err := e.attach(ctx); err != nil {
		return fmt.Errorf("executable %q: %w", e.options.Job.Name, err)
	}

	if err := os.Chmod(e.outputPath, 0o755); err != nil {
		return fmt.Errorf("marking executable runnable: %w", err)
	}
	if err := saveRecord(e.recordPath, e.outputPath, "executable", e.config.Clock.Now(), e.params(), e.inputs()); err != nil {
		return err
	}
	logger.Info("executable assembled", "output", e.outputPath)
	return nil
}

// attach applies the container attachment strategy: sidecar for
// one-dir builds, ELF section embed for linux one-file, raw append
// everywhere else (with the Mach-O span fixup on darwin).
func (e *Executable) attach(ctx context.Context) error {
	containerPath := e.options.Container.OutputPath()

	if !e.options.Job.OneFile {
		if containerPath == e.sidecarPath() {
			return nil
		}
		if err := copyFile(containerPath, e.sidecarPath(), 0o644); err != nil {
			return fmt.Errorf("placing container sidecar: %w", err)
		}
		return nil
	}

	switch e.config.Platform {
	case "linux":
		if e.options.Objcopy.Path == "" {
			return fmt.Errorf("one-file linux builds need the objcopy tool configured")
		}
		section := containerSectionName + "=" + containerPath
		if _, err := e.options.Objcopy.Run(ctx, "--add-section", section, e.outputPath); err != nil {
			return fmt.Errorf("embedding container section: %w", err)
		}
		return nil

	case "darwin":
		if err := appendFile(e.outputPath, containerPath); err != nil {
			return err
		}
		if err := fixupMachO(e.outputPath); err != nil {
			return err
		}
		return nil

	default:
		return appendFile(e.outputPath, containerPath)
	}
}
