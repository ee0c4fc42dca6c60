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
	"github.com/icepack-project/icepack/lib/codeobj"
	"github.com/icepack-project/icepack/lib/keyfile"
	"github.com/icepack-project/icepack/lib/manifest"
)

// ModuleArchiveOptions configures a module archive node.
type ModuleArchiveOptions struct {
	// Name is the archive base name; the output is <Name>.mar in the
	// work directory.
	Name string

	// Inputs supply the entry tables. Entries that are not MODULE or
	// SOURCE are ignored.
	Inputs []Input

	// Compiler produces code blobs for modules absent from CodeCache.
	Compiler codeobj.Compiler

	// CodeCache is the analysis-supplied precompiled blob directory.
	CodeCache codeobj.CacheDir

	// Key enables per-entry encryption. Nil builds a plain archive.
	Key *keyfile.File

	// KeyReference is the text carried by the generated key module
	// when encryption is enabled; the loader resolves it to the sealed
	// key at run time. Required when Key is set.
	KeyReference string
}

// ModuleArchive packs MODULE and SOURCE entries into a .mar file. The
// bootstrap modules (the importer machinery the loader embeds before
// any archive exists) are partitioned out and exposed through
// [ModuleArchive.Bootstrap] for the payload container to carry
// individually. When encryption is enabled, a generated key module
// joins the bootstrap set ahead of everything else; it never enters
// the archive, since the loader needs it to unlock the archive in the
// first place.
type ModuleArchive struct {
	config  Config
	options ModuleArchiveOptions

	outputPath string
	recordPath string

	// archived and bootstrap are populated by Build.
	archived  []manifest.Entry
	bootstrap *manifest.TOC
}

// moduleArchiveParams is the recorded parameter set for staleness.
type moduleArchiveParams struct {
	Encrypted    bool     `cbor:"encrypted"`
	KeyReference string   `cbor:"key_reference,omitempty"`
	Bootstrap    []string `cbor:"bootstrap"`
	PathPrefixes []string `cbor:"path_prefixes"`
}

// NewModuleArchive creates the node. Build must be called before the
// output accessors are meaningful.
func NewModuleArchive(config Config, options ModuleArchiveOptions) (*ModuleArchive, error) {
	if options.Name == "" {
		return nil, fmt.Errorf("module archive needs a name")
	}
	if options.Compiler == nil {
		return nil, fmt.Errorf("module archive %q needs a compiler", options.Name)
	}
	if options.Key != nil && options.KeyReference == "" {
		return nil, fmt.Errorf("module archive %q is encrypted but has no key reference", options.Name)
	}
	config = config.withDefaults()

	outputPath := filepath.Join(config.WorkPath, options.Name+".mar")
	return &ModuleArchive{
		config:     config,
		options:    options,
		outputPath: outputPath,
		recordPath: outputPath + ".record",
		bootstrap:  manifest.NewTOC(),
	}, nil
}

// OutputPath implements Node.
func (ma *ModuleArchive) OutputPath() string {
	return ma.outputPath
}

// OutputEntry implements Node: the archive embeds into a container as
// an ARCHIVE entry (stored raw; its entries are already compressed).
func (ma *ModuleArchive) OutputEntry() manifest.Entry {
	return manifest.Entry{
		Name: ma.options.Name + ".mar",
		Path: ma.outputPath,
		Type: manifest.Archive,
	}
}

// Bootstrap returns the bootstrap module entries partitioned out of
// the archive, in loader import order. Valid after Build.
func (ma *ModuleArchive) Bootstrap() *manifest.TOC {
	return ma.bootstrap
}

func (ma *ModuleArchive) params() moduleArchiveParams {
	return moduleArchiveParams{
		Encrypted:    ma.options.Key != nil,
		KeyReference: ma.options.KeyReference,
		Bootstrap:    ma.config.BootstrapModules,
		PathPrefixes: ma.config.PathPrefixes,
	}
}

// partition splits the resolved inputs into archived entries (sorted
// by name, the write order) and the bootstrap table (loader import
// order). Non-module entry types are dropped silently; they belong to
// other nodes.
func (ma *ModuleArchive) partition(entries []manifest.Entry) {
	isBootstrap := make(map[string]bool, len(ma.config.BootstrapModules))
	for _, name := range ma.config.BootstrapModules {
		isBootstrap[name] = true
	}

	byName := make(map[string]manifest.Entry)
	ma.archived = ma.archived[:0]
	for _, entry := range entries {
		if entry.Type != manifest.Module && entry.Type != manifest.Source {
			continue
		}
		if isBootstrap[entry.Name] {
			byName[entry.Name] = entry
			continue
		}
		ma.archived = append(ma.archived, entry)
	}
	slices.SortFunc(ma.archived, func(a, b manifest.Entry) int {
		return strings.Compare(a.Name, b.Name)
	})

	ma.bootstrap = manifest.NewTOC()
	if ma.options.Key != nil {
		// The loader must resolve the archive key before the importer
		// runs, so the key module rides ahead of every bootstrap
		// module. It has no dependencies of its own.
		ma.bootstrap.Append(manifest.Entry{
			Name: KeyModuleName,
			Path: ma.keyModulePath(),
			Type: manifest.Module,
		})
	}
	for _, name := range ma.config.BootstrapModules {
		if entry, ok := byName[name]; ok {
			ma.bootstrap.Append(entry)
		}
	}
}

// keyModulePath is where the generated key module blob lives in the
// work directory.
func (ma *ModuleArchive) keyModulePath() string {
	return filepath.Join(ma.config.WorkPath, KeyModuleName+".icb")
}

// writeKeyModule generates the key module: a code blob whose body is
// the key reference text. The container embeds it with the bootstrap
// set, outside the encrypted archive.
func (ma *ModuleArchive) writeKeyModule() error {
	blob := codeobj.Blob{Body: []byte(ma.options.KeyReference)}
	encoded, err := blob.Encode()
	if err != nil {
		return fmt.Errorf("encoding key module: %w", err)
	}
	if err := os.WriteFile(ma.keyModulePath(), encoded, 0o644); err != nil {
		return fmt.Errorf("writing key module: %w", err)
	}
	return nil
}

// Build produces the archive, or reuses the existing output when
// nothing tracked has changed. Modules that fail to compile are
// dropped with a warning; the build continues without them.
func (ma *ModuleArchive) Build(ctx context.Context) error {
	logger := ma.config.Logger.With("archive", ma.options.Name)

	entries, err := resolveInputs(ma.options.Inputs)
	if err != nil {
		return fmt.Errorf("module archive %q: %w", ma.options.Name, err)
	}
	ma.partition(entries)

	stale, reason := checkStale(ma.outputPath, ma.recordPath, "module-archive", ma.params(), ma.archived)
	if !stale {
		logger.Info("module archive is up to date, skipping")
		return nil
	}
	logger.Info("building module archive", "reason", reason, "modules", len(ma.archived))

	if err := os.MkdirAll(filepath.Dir(ma.outputPath), 0o755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	if ma.options.Key != nil {
		if err := ma.writeKeyModule(); err != nil {
			return err
		}
	}
	file, err := os.Create(ma.outputPath)
	if err != nil {
		return fmt.Errorf("creating module archive: %w", err)
	}
	defer file.Close()

	var writer *archive.ModuleWriter
	if ma.options.Key != nil {
		writer, err = archive.NewModuleWriter(file, ma.options.Key.Key)
	} else {
		writer, err = archive.NewModuleWriter(file, nil)
	}
	if err != nil {
		return err
	}

	dropped := 0
	for _, entry := range ma.archived {
		blob, err := ma.loadBlob(ctx, entry)
		if err != nil {
			logger.Warn("module failed to compile, dropping from archive",
				"module", entry.Name, "source", entry.Path, "error", err)
			dropped++
			continue
		}
		blob.StripPrefixes(ma.config.PathPrefixes)
		encoded, err := blob.Encode()
		if err != nil {
			return fmt.Errorf("encoding module %q: %w", entry.Name, err)
		}
		if err := writer.Add(entry.Name, entry.Type.Code(), encoded); err != nil {
			return err
		}
	}

	if err := writer.Finish(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing module archive: %w", err)
	}

	if err := saveRecord(ma.recordPath, ma.outputPath, "module-archive", ma.config.Clock.Now(), ma.params(), ma.archived); err != nil {
		return err
	}
	logger.Info("module archive built", "modules", writer.Count(), "dropped", dropped)
	return nil
}

// loadBlob finds or produces the code blob for one entry: the code
// cache first, the compiler otherwise.
func (ma *ModuleArchive) loadBlob(ctx context.Context, entry manifest.Entry) (*codeobj.Blob, error) {
	blob, ok, err := ma.options.CodeCache.Lookup(entry.Name)
	if err != nil {
		return nil, err
	}
	if ok {
		return blob, nil
	}
	return ma.options.Compiler.Compile(ctx, entry.Name, entry.Path)
}
