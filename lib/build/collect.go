// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/icepack-project/icepack/lib/bincache"
	"github.com/icepack-project/icepack/lib/manifest"
)

// CollectOptions configures a collection directory node.
type CollectOptions struct {
	// Name is the distribution directory name under DistPath.
	Name string

	// Inputs supply the entries and built nodes to lay out.
	Inputs []Input

	// Cache processes EXTENSION/BINARY payloads per Strip/Compact.
	Cache          *bincache.Cache
	Strip, Compact bool
}

// Collect assembles the one-dir distribution tree. Unlike the archive
// nodes it keeps no build record: verifying a whole tree against a
// snapshot is not worth the machinery, so the output directory is
// wiped and rebuilt on every run.
type Collect struct {
	config  Config
	options CollectOptions

	outputDir string
}

// NewCollect creates the node.
func NewCollect(config Config, options CollectOptions) (*Collect, error) {
	if options.Name == "" {
		return nil, fmt.Errorf("collection directory needs a name")
	}
	config = config.withDefaults()
	return &Collect{
		config:    config,
		options:   options,
		outputDir: filepath.Join(config.DistPath, options.Name),
	}, nil
}

// OutputDir returns the distribution directory path.
func (co *Collect) OutputDir() string {
	return co.outputDir
}

// Build wipes and recreates the distribution directory.
func (co *Collect) Build(ctx context.Context) error {
	logger := co.config.Logger.With("collection", co.options.Name)

	entries, err := resolveInputs(co.options.Inputs)
	if err != nil {
		return fmt.Errorf("collection %q: %w", co.options.Name, err)
	}

	if err := os.RemoveAll(co.outputDir); err != nil {
		return fmt.Errorf("clearing %s: %w", co.outputDir, err)
	}
	if err := os.MkdirAll(co.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", co.outputDir, err)
	}
	logger.Info("collecting distribution directory", "entries", len(entries))

	suffix := co.config.sharedLibSuffix()
	collected := 0
	for _, entry := range entries {
		if entry.Type == manifest.Dependency {
			continue
		}

		if entry.Type.Loadable() && !strings.HasSuffix(entry.Name, suffix) {
			if ext := filepath.Ext(entry.Path); ext != "" && !strings.HasSuffix(entry.Name, ext) {
				entry.Name += ext
			}
		}

		destination, err := co.destinationFor(entry.Name)
		if err != nil {
			return fmt.Errorf("collection %q: %w", co.options.Name, err)
		}

		source := entry.Path
		if entry.Type.Loadable() && co.options.Cache != nil {
			source, err = co.options.Cache.Process(ctx, source, co.options.Strip, co.options.Compact)
			if err != nil {
				return fmt.Errorf("collection %q: %w", co.options.Name, err)
			}
		}

		if err := copyPreserving(source, destination, logger); err != nil {
			return fmt.Errorf("collection %q: entry %q: %w", co.options.Name, entry.Name, err)
		}
		if entry.Type.Loadable() || entry.Type == manifest.Executable {
			if err := os.Chmod(destination, 0o755); err != nil {
				return fmt.Errorf("marking %s runnable: %w", destination, err)
			}
		}
		collected++
	}

	logger.Info("distribution directory collected", "files", collected, "directory", co.outputDir)
	return nil
}

// destinationFor resolves an internal name inside the output
// directory, rejecting names that escape it. A frozen application
// must never be able to plant files outside its own tree.
func (co *Collect) destinationFor(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("entry has an empty internal name")
	}
	if filepath.IsAbs(name) || filepath.IsAbs(filepath.FromSlash(name)) {
		return "", fmt.Errorf("entry name %q is absolute", name)
	}

	destination := filepath.Join(co.outputDir, filepath.FromSlash(name))
	if !strings.HasPrefix(destination, co.outputDir+string(filepath.Separator)) {
		return "", fmt.Errorf("entry name %q escapes the output directory", name)
	}
	return destination, nil
}
