// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package extract implements "icepack extract", which writes archive
// entry payloads back out as files.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/icepack-project/icepack/cmd/icepack/cli"
	"github.com/icepack-project/icepack/lib/archive"
	"github.com/icepack-project/icepack/lib/keyfile"
	"github.com/icepack-project/icepack/lib/secret"
)

// Command returns the "extract" command.
func Command() *cli.Command {
	var (
		outputDir string
		keyPath   string
	)

	return &cli.Command{
		Name:    "extract",
		Summary: "Extract entries from an archive or frozen executable",
		Description: `Write archive payloads to the output directory.

The file may be a module archive (.mar), a sidecar payload container
(.pkg), or a frozen executable. With no entry names, every
payload-bearing entry is extracted (option and dependency rows have no
payload and are skipped). Entry names containing slashes recreate the
directory structure under the output directory.

Encrypted module archives need the archive key file via --key.`,
		Usage: "icepack extract [flags] <file> [name...]",
		Examples: []cli.Example{
			{
				Description: "Extract everything from a frozen executable",
				Command:     "icepack extract dist/app -o unpacked/",
			},
			{
				Description: "Extract one module from an encrypted archive",
				Command:     "icepack extract build/app.mar pkg.main --key app.key",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			flagSet.StringVarP(&outputDir, "output", "o", ".", "directory to extract into")
			flagSet.StringVar(&keyPath, "key", "", "archive key file for encrypted module archives (- reads stdin)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return fmt.Errorf("expected an archive file argument")
			}
			path, names := args[0], args[1:]

			kind, err := archive.DetectKind(path)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			switch kind {
			case archive.KindModuleArchive:
				return extractModuleArchive(path, names, outputDir, keyPath, logger)
			case archive.KindContainer:
				return extractContainer(path, names, outputDir, logger)
			default:
				return fmt.Errorf("%s: no icepack archive found", path)
			}
		},
	}
}

func extractContainer(path string, names []string, outputDir string, logger *slog.Logger) error {
	reader, file, err := archive.OpenContainerFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	selected, err := selectContainerEntries(reader, names)
	if err != nil {
		return err
	}

	for _, entry := range selected {
		if entry.StoredSize == 0 && entry.RawSize == 0 {
			// Marker rows (options, dependency references) carry no
			// payload.
			continue
		}
		payload, err := reader.Extract(file, entry)
		if err != nil {
			return err
		}
		destination, err := destinationPath(outputDir, entry.Name)
		if err != nil {
			return err
		}
		if err := writePayload(destination, payload); err != nil {
			return err
		}
		logger.Info("extracted", "name", entry.Name, "bytes", len(payload))
	}
	return nil
}

func extractModuleArchive(path string, names []string, outputDir, keyPath string, logger *slog.Logger) error {
	reader, file, err := archive.OpenModuleArchive(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var key *secret.Buffer
	if keyPath != "" {
		keyFile, err := keyfile.Load(keyPath)
		if err != nil {
			return err
		}
		defer keyFile.Close()
		key = keyFile.Key
	}
	if reader.Encrypted && key == nil {
		return fmt.Errorf("%s is encrypted; supply the archive key file with --key", path)
	}

	selected, err := selectModuleEntries(reader, names)
	if err != nil {
		return err
	}

	for _, entry := range selected {
		blob, err := reader.Extract(file, entry, key)
		if err != nil {
			return err
		}
		destination, err := destinationPath(outputDir, entry.Name)
		if err != nil {
			return err
		}
		if err := writePayload(destination, blob); err != nil {
			return err
		}
		logger.Info("extracted", "name", entry.Name, "bytes", len(blob))
	}
	return nil
}

func selectContainerEntries(reader *archive.ContainerReader, names []string) ([]archive.IndexEntry, error) {
	if len(names) == 0 {
		return reader.Entries, nil
	}
	selected := make([]archive.IndexEntry, 0, len(names))
	for _, name := range names {
		entry, ok := reader.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("no entry named %q in the container", name)
		}
		selected = append(selected, entry)
	}
	return selected, nil
}

func selectModuleEntries(reader *archive.ModuleReader, names []string) ([]archive.ModuleIndexEntry, error) {
	if len(names) == 0 {
		return reader.Entries, nil
	}
	selected := make([]archive.ModuleIndexEntry, 0, len(names))
	for _, name := range names {
		entry, ok := reader.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("no module named %q in the archive", name)
		}
		selected = append(selected, entry)
	}
	return selected, nil
}

// destinationPath joins an entry name onto the output directory and
// rejects names that would escape it. Archive entry names are
// untrusted input.
func destinationPath(outputDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", fmt.Errorf("entry name %q escapes the output directory", name)
	}
	return filepath.Join(outputDir, cleaned), nil
}

func writePayload(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
