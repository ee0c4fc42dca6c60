// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/icepack-project/icepack/lib/archive"
	"github.com/icepack-project/icepack/lib/bincache"
	"github.com/icepack-project/icepack/lib/codeobj"
	"github.com/icepack-project/icepack/lib/manifest"
)

// ContainerOptions configures a payload container node.
type ContainerOptions struct {
	// Name is the container base name; the output is <Name>.pkg in the
	// work directory.
	Name string

	// RuntimeLib is the runtime shared-library base name recorded in
	// the container cookie.
	RuntimeLib string

	// Inputs supply the entry tables and upstream nodes (typically the
	// bootstrap modules, the scripts, and the module archive node).
	Inputs []Input

	// Compiler and CodeCache produce code blobs for MODULE and SOURCE
	// payloads carried directly in the container. Unlike the module
	// archive, a compile failure here is fatal: these are the entry
	// points and the bootstrap, the application cannot start without
	// them.
	Compiler  codeobj.Compiler
	CodeCache codeobj.CacheDir

	// Cache processes EXTENSION/BINARY payloads per Strip/Compact.
	// A nil cache carries binaries unprocessed.
	Cache          *bincache.Cache
	Strip, Compact bool

	// Directives are loader OPTION rows ("runtime-tmpdir /tmp/x") to
	// emit into the container.
	Directives []string

	// Bundles lists library bundles collected whole; entries whose
	// missing source file resolves inside one of these are dropped
	// rather than treated as an error.
	Bundles *manifest.TOC

	// ExcludeBinaries diverts EXTENSION/BINARY/DATA/ZIP entries to the
	// Forwarded table instead of packing them (one-dir builds, where
	// the collection directory carries the loose files).
	ExcludeBinaries bool
}

// Container packs a final entry table and its payloads into a .pkg
// file: the one-file executable payload, or the slim runtime package
// of a one-dir build.
type Container struct {
	config  Config
	options ContainerOptions

	outputPath string
	recordPath string

	// table and forwarded are populated by Build.
	table     []manifest.Entry
	forwarded *manifest.TOC
}

// containerParams is the recorded parameter set for staleness.
type containerParams struct {
	RuntimeLib      string   `cbor:"runtime_lib"`
	Platform        string   `cbor:"platform"`
	Strip           bool     `cbor:"strip"`
	Compact         bool     `cbor:"compact"`
	Directives      []string `cbor:"directives"`
	ExcludeBinaries bool     `cbor:"exclude_binaries"`
	PathPrefixes    []string `cbor:"path_prefixes"`
}

// NewContainer creates the node.
func NewContainer(config Config, options ContainerOptions) (*Container, error) {
	if options.Name == "" {
		return nil, fmt.Errorf("container needs a name")
	}
	if options.RuntimeLib == "" {
		return nil, fmt.Errorf("container %q needs a runtime library name", options.Name)
	}
	if options.Compiler == nil {
		return nil, fmt.Errorf("container %q needs a compiler", options.Name)
	}
	config = config.withDefaults()

	outputPath := filepath.Join(config.WorkPath, options.Name+".pkg")
	return &Container{
		config:     config,
		options:    options,
		outputPath: outputPath,
		recordPath: outputPath + ".record",
		forwarded:  manifest.NewTOC(),
	}, nil
}

// OutputPath implements Node.
func (c *Container) OutputPath() string {
	return c.outputPath
}

// OutputEntry implements Node: a container nests into another
// container (or collects into a directory) as a CONTAINER entry,
// stored raw.
func (c *Container) OutputEntry() manifest.Entry {
	return manifest.Entry{
		Name: c.options.Name + ".pkg",
		Path: c.outputPath,
		Type: manifest.Container,
	}
}

// Forwarded returns the entries diverted by ExcludeBinaries, for the
// collection directory to carry. Valid after Build.
func (c *Container) Forwarded() *manifest.TOC {
	return c.forwarded
}

func (c *Container) params() containerParams {
	return containerParams{
		RuntimeLib:      c.options.RuntimeLib,
		Platform:        c.config.Platform,
		Strip:           c.options.Strip,
		Compact:         c.options.Compact,
		Directives:      c.options.Directives,
		ExcludeBinaries: c.options.ExcludeBinaries,
		PathPrefixes:    c.config.PathPrefixes,
	}
}

// buildTable applies the table construction rules in input order:
// suffix normalization, bundle-member dropping, duplicate resolution
// (first wins), binary diversion, then the final ordering — MODULE and
// SOURCE entries keep their relative input order, everything else
// sorts after them by (type code, name).
func (c *Container) buildTable(entries []manifest.Entry) error {
	logger := c.config.Logger.With("container", c.options.Name)
	suffix := c.config.sharedLibSuffix()

	firstPath := make(map[string]string)  // internal name -> source path
	firstName := make(map[string]string)  // source path -> internal name
	c.forwarded = manifest.NewTOC()

	var modules, others []manifest.Entry
	for _, entry := range entries {
		if entry.Type.Loadable() && !strings.HasSuffix(entry.Name, suffix) {
			if ext := filepath.Ext(entry.Path); ext != "" && !strings.HasSuffix(entry.Name, ext) {
				entry.Name += ext
			}
		}

		if entry.Path != "" {
			if _, err := os.Stat(entry.Path); err != nil {
				if c.insideBundle(entry.Path) {
					logger.Debug("entry is packaged inside a bundle, dropping", "entry", entry.Name)
					continue
				}
				return fmt.Errorf("entry %q: source file %s is missing", entry.Name, entry.Path)
			}
		}

		if previous, ok := firstPath[entry.Name]; ok {
			logger.Warn("duplicate entry name, keeping first",
				"entry", entry.Name, "kept", previous, "skipped", entry.Path)
			continue
		}
		firstPath[entry.Name] = entry.Path

		if entry.Path != "" {
			if otherName, ok := firstName[entry.Path]; ok && otherName != entry.Name {
				logger.Warn("one file packaged under two names",
					"path", entry.Path, "first", otherName, "second", entry.Name)
			} else {
				firstName[entry.Path] = entry.Name
			}
		}

		if c.options.ExcludeBinaries {
			switch entry.Type {
			case manifest.Extension, manifest.Binary, manifest.Data, manifest.Zip:
				c.forwarded.Append(entry)
				continue
			}
		}

		if entry.Type == manifest.Module || entry.Type == manifest.Source {
			modules = append(modules, entry)
		} else {
			others = append(others, entry)
		}
	}

	for _, directive := range c.options.Directives {
		others = append(others, manifest.Entry{Name: directive, Type: manifest.Option})
	}

	slices.SortStableFunc(others, func(a, b manifest.Entry) int {
		if d := int(a.Type.Code()) - int(b.Type.Code()); d != 0 {
			return d
		}
		return strings.Compare(a.Name, b.Name)
	})

	c.table = append(modules, others...)
	return nil
}

// insideBundle reports whether a missing source path resolves into one
// of the bundles collected whole.
func (c *Container) insideBundle(path string) bool {
	if c.options.Bundles == nil {
		return false
	}
	for _, bundle := range c.options.Bundles.Entries() {
		if bundle.Path == "" {
			continue
		}
		root := strings.TrimRight(bundle.Path, string(filepath.Separator))
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Build produces the container, or reuses the existing output when
// nothing tracked has changed.
func (c *Container) Build(ctx context.Context) error {
	logger := c.config.Logger.With("container", c.options.Name)

	entries, err := resolveInputs(c.options.Inputs)
	if err != nil {
		return fmt.Errorf("container %q: %w", c.options.Name, err)
	}
	if err := c.buildTable(entries); err != nil {
		return fmt.Errorf("container %q: %w", c.options.Name, err)
	}

	stale, reason := checkStale(c.outputPath, c.recordPath, "container", c.params(), c.table)
	if !stale {
		logger.Info("container is up to date, skipping")
		return nil
	}
	logger.Info("building container", "reason", reason, "entries", len(c.table))

	if err := os.MkdirAll(filepath.Dir(c.outputPath), 0o755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	file, err := os.Create(c.outputPath)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	defer file.Close()

	writer, err := archive.NewContainerWriter(file, c.options.RuntimeLib)
	if err != nil {
		return err
	}

	for _, entry := range c.table {
		if err := c.addEntry(ctx, writer, entry); err != nil {
			return fmt.Errorf("container %q: %w", c.options.Name, err)
		}
	}

	if err := writer.Finish(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing container: %w", err)
	}

	if err := saveRecord(c.recordPath, c.outputPath, "container", c.config.Clock.Now(), c.params(), c.table); err != nil {
		return err
	}
	logger.Info("container built", "entries", writer.Count())
	return nil
}

// addEntry produces one entry's payload and writes it.
func (c *Container) addEntry(ctx context.Context, writer *archive.ContainerWriter, entry manifest.Entry) error {
	switch entry.Type {
	case manifest.Option, manifest.Dependency:
		return writer.AddMarker(entry.Name, entry.Type.Code())

	case manifest.Module, manifest.Source:
		blob, err := c.compile(ctx, entry)
		if err != nil {
			return err
		}
		blob.StripPrefixes(c.config.PathPrefixes)
		encoded, err := blob.Encode()
		if err != nil {
			return fmt.Errorf("encoding %q: %w", entry.Name, err)
		}
		return writer.Add(entry.Name, entry.Type.Code(), encoded, true)

	case manifest.Extension, manifest.Binary:
		path := entry.Path
		if c.options.Cache != nil {
			processed, err := c.options.Cache.Process(ctx, path, c.options.Strip, c.options.Compact)
			if err != nil {
				return err
			}
			path = processed
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %q payload: %w", entry.Name, err)
		}
		return writer.Add(entry.Name, entry.Type.Code(), payload, true)

	default:
		payload, err := os.ReadFile(entry.Path)
		if err != nil {
			return fmt.Errorf("reading %q payload: %w", entry.Name, err)
		}
		return writer.Add(entry.Name, entry.Type.Code(), payload, entry.Type.Compressed())
	}
}

// compile produces the code blob for a MODULE or SOURCE entry carried
// directly in the container.
func (c *Container) compile(ctx context.Context, entry manifest.Entry) (*codeobj.Blob, error) {
	blob, ok, err := c.options.CodeCache.Lookup(entry.Name)
	if err != nil {
		return nil, err
	}
	if ok {
		return blob, nil
	}
	// Generated modules (the key module) arrive as serialized blob
	// files; they are embedded as-is, never recompiled.
	if strings.HasSuffix(entry.Path, ".icb") {
		blob, err := codeobj.LoadFile(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.Name, err)
		}
		return blob, nil
	}
	blob, err = c.options.Compiler.Compile(ctx, entry.Name, entry.Path)
	if err != nil {
		return nil, fmt.Errorf("entry %q must compile: %w", entry.Name, err)
	}
	return blob, nil
}
