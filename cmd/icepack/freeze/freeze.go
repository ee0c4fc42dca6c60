// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package freeze implements "icepack freeze", the front door of the
// build pipeline: load the build file, stand up a Freezer, and either
// run it or print its plan.
package freeze

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/icepack-project/icepack/cmd/icepack/cli"
	"github.com/icepack-project/icepack/lib/build"
)

// defaultBuildFile is the build file name looked up in the current
// directory when no positional argument is given.
const defaultBuildFile = "icepack.yaml"

// Command returns the "freeze" command.
func Command() *cli.Command {
	var dryRun bool

	return &cli.Command{
		Name:    "freeze",
		Summary: "Run the freeze pipeline",
		Description: `Build every job described by a build file.

Relative paths in the build file (work directory, loader directory,
analysis documents) are resolved against the build file's own
directory, so a build is reproducible from any working directory.

Unchanged outputs are skipped: every archive and executable carries a
build record, and a node rebuilds only when its inputs, parameters, or
output have changed since the record was written.`,
		Usage: "icepack freeze [flags] [buildfile]",
		Examples: []cli.Example{
			{
				Description: "Build using ./icepack.yaml",
				Command:     "icepack freeze",
			},
			{
				Description: "Build a specific project",
				Command:     "icepack freeze projects/app/icepack.yaml",
			},
			{
				Description: "Show what would be rebuilt",
				Command:     "icepack freeze --dry-run",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("freeze", pflag.ContinueOnError)
			flagSet.BoolVarP(&dryRun, "dry-run", "n", false, "report stale outputs without building")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path := defaultBuildFile
			switch len(args) {
			case 0:
			case 1:
				path = args[0]
			default:
				return fmt.Errorf("freeze takes at most one build file, got %d arguments", len(args))
			}

			buildFile, err := build.LoadBuildFile(path)
			if err != nil {
				return err
			}

			baseDir, err := filepath.Abs(filepath.Dir(path))
			if err != nil {
				return fmt.Errorf("resolving build file directory: %w", err)
			}

			freezer, err := build.NewFreezer(buildFile, baseDir, logger)
			if err != nil {
				return err
			}
			if dryRun {
				return freezer.Plan()
			}
			return freezer.Run(ctx)
		},
	}
}
