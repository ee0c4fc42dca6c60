// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache implements "icepack cache", maintenance commands for
// the processed shared-library cache the freeze pipeline keeps under
// the work directory.
package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/icepack-project/icepack/cmd/icepack/cli"
	"github.com/icepack-project/icepack/lib/bincache"
)

// Command returns the "cache" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "cache",
		Summary: "Manage the shared-library processing cache",
		Description: `Maintenance for the binary cache.

The freeze pipeline strips and compacts shared libraries once per
content hash and reuses the result across jobs and rebuilds. The cache
lives under the work directory (workpath/bincache unless the build
file says otherwise) and is safe to delete at any time; the next build
repopulates it.`,
		Subcommands: []*cli.Command{
			infoCommand(),
			pruneCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Report cache size",
				Command:     "icepack cache info build/bincache",
			},
			{
				Description: "Delete every cached library",
				Command:     "icepack cache prune build/bincache",
			},
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:    "info",
		Summary: "Report cache entry count and total size",
		Usage:   "icepack cache info <dir>",
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			directory, err := cacheDirArg(args)
			if err != nil {
				return err
			}

			cache := bincache.New(directory, bincache.Options{Logger: logger})
			count, totalBytes, err := cache.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d entries, %s\n", directory, count, formatBytes(totalBytes))
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:    "prune",
		Summary: "Delete all cached libraries",
		Usage:   "icepack cache prune <dir>",
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			directory, err := cacheDirArg(args)
			if err != nil {
				return err
			}

			cache := bincache.New(directory, bincache.Options{Logger: logger})
			count, totalBytes, err := cache.Stats()
			if err != nil {
				return err
			}
			if err := cache.Prune(); err != nil {
				return err
			}
			logger.Info("cache pruned", "dir", directory, "entries", count, "bytes", totalBytes)
			fmt.Printf("removed %d entries, %s\n", count, formatBytes(totalBytes))
			return nil
		},
	}
}

func cacheDirArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one cache directory argument, got %d", len(args))
	}
	return args[0], nil
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
