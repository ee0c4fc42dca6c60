// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/icepack-project/icepack/lib/manifest"
)

// Merge rewrites a set of analyses so content packaged by an earlier
// executable is not duplicated by a later one. The first analysis is
// privileged and keeps everything; in later analyses, an entry whose
// source path was already claimed is replaced by a DEPENDENCY row
// pointing at the claiming executable. The analyses are modified in
// place, in the order given, which is the order the executables will
// be built in.
func Merge(analyses []*Analysis, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(analyses) < 2 {
		return nil
	}

	scripts := make([]string, len(analyses))
	for i, analysis := range analyses {
		scripts[i] = analysis.Script
	}
	prefix := commonScriptPrefix(scripts)

	identifiers := make([]string, len(analyses))
	for i, analysis := range analyses {
		identifier, err := packageIdentifier(analysis, prefix)
		if err != nil {
			return fmt.Errorf("merging analyses: %w", err)
		}
		if analysis.DisplayPath != "" {
			identifier = analysis.DisplayPath
		}
		identifiers[i] = identifier
	}

	// claimed maps an absolute source path to the identifier of the
	// executable that packages it.
	claimed := make(map[string]string)

	for i, analysis := range analyses {
		replaced := 0
		for _, table := range []**manifest.TOC{
			&analysis.Modules, &analysis.Binaries, &analysis.Datas, &analysis.Bundles,
		} {
			kept := manifest.NewTOC()
			for _, entry := range (*table).Entries() {
				if entry.Path == "" {
					kept.Append(entry)
					continue
				}
				key, err := filepath.Abs(entry.Path)
				if err != nil {
					return fmt.Errorf("merging analyses: resolving %s: %w", entry.Path, err)
				}

				owner, alreadyClaimed := claimed[key]
				if !alreadyClaimed {
					claimed[key] = identifiers[i]
					kept.Append(entry)
					continue
				}

				reference, err := dependencyReference(identifiers[i], owner, entry.Name)
				if err != nil {
					return fmt.Errorf("merging analyses: %w", err)
				}
				analysis.Dependencies.Append(manifest.Entry{
					Name: reference,
					Path: entry.Name,
					Type: manifest.Dependency,
				})
				replaced++
			}
			*table = kept
		}
		if replaced > 0 {
			logger.Info("deduplicated shared content",
				"executable", identifiers[i], "references", replaced)
		}
	}
	return nil
}

// packageIdentifier derives the executable's identifier: the explicit
// override when set, otherwise the entry script's path relative to the
// common prefix, extension stripped.
func packageIdentifier(analysis *Analysis, prefix string) (string, error) {
	if analysis.Identifier != "" {
		return analysis.Identifier, nil
	}

	identifier := analysis.Script
	if prefix != "" {
		relative, err := filepath.Rel(prefix, analysis.Script)
		if err != nil {
			return "", fmt.Errorf("relating %s to %s: %w", analysis.Script, prefix, err)
		}
		identifier = relative
	}
	return strings.TrimSuffix(identifier, filepath.Ext(identifier)), nil
}

// dependencyReference builds the DEPENDENCY internal name: the path
// from the referencing executable's location to the claiming one,
// joined with the original internal name.
func dependencyReference(self, owner, name string) (string, error) {
	relative, err := filepath.Rel(filepath.Dir(self), owner)
	if err != nil {
		return "", fmt.Errorf("relating %s to %s: %w", self, owner, err)
	}
	return filepath.ToSlash(relative) + ":" + name, nil
}

// commonScriptPrefix returns the longest common directory prefix of
// the entry scripts. Empty when the scripts share no prefix.
func commonScriptPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	prefix := filepath.Dir(paths[0])
	for _, path := range paths[1:] {
		directory := filepath.Dir(path)
		for prefix != "" && !isPathPrefix(prefix, directory) {
			parent := filepath.Dir(prefix)
			if parent == prefix {
				return ""
			}
			prefix = parent
		}
	}
	return prefix
}

// isPathPrefix reports whether prefix is path itself or one of its
// ancestors, on segment boundaries.
func isPathPrefix(prefix, path string) bool {
	if prefix == path {
		return true
	}
	return strings.HasPrefix(path, strings.TrimRight(prefix, string(filepath.Separator))+string(filepath.Separator))
}
