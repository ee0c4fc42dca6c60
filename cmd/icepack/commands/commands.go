// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete icepack CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	cachecmd "github.com/icepack-project/icepack/cmd/icepack/cache"
	"github.com/icepack-project/icepack/cmd/icepack/cli"
	extractcmd "github.com/icepack-project/icepack/cmd/icepack/extract"
	freezecmd "github.com/icepack-project/icepack/cmd/icepack/freeze"
	inspectcmd "github.com/icepack-project/icepack/cmd/icepack/inspect"
	keygencmd "github.com/icepack-project/icepack/cmd/icepack/keygen"
	viewcmd "github.com/icepack-project/icepack/cmd/icepack/view"
	"github.com/icepack-project/icepack/lib/version"
)

// Root builds and returns the complete icepack CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "icepack",
		Description: `Icepack: freeze applications into standalone executables.

Pack an analyzed application (its entry scripts, modules, shared
libraries, and data files) into a self-contained executable or a
distribution directory, with incremental rebuilds and optional
module encryption.`,
		Subcommands: []*cli.Command{
			freezecmd.Command(),
			inspectcmd.Command(),
			extractcmd.Command(),
			viewcmd.Command(),
			cachecmd.Command(),
			keygencmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("icepack %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Build everything described by icepack.yaml",
				Command:     "icepack freeze",
			},
			{
				Description: "Show what a freeze run would rebuild, without building",
				Command:     "icepack freeze --dry-run",
			},
			{
				Description: "Generate an archive encryption key",
				Command:     "icepack keygen -o app.key",
			},
			{
				Description: "List the contents of a frozen executable",
				Command:     "icepack inspect dist/app",
			},
			{
				Description: "Browse an archive interactively",
				Command:     "icepack view dist/app.pkg",
			},
			{
				Description: "Extract one entry from a module archive",
				Command:     "icepack extract build/app.mar util --key app.key -o out/",
			},
			{
				Description: "Report the shared-library cache size",
				Command:     "icepack cache info build/bincache",
			},
		},
	}
}
