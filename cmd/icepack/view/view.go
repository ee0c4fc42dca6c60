// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package view implements "icepack view", an interactive terminal
// browser for archive contents with fuzzy filtering and payload
// previews.
package view

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/icepack-project/icepack/cmd/icepack/cli"
)

// Command returns the "view" command.
func Command() *cli.Command {
	var keyPath string

	return &cli.Command{
		Name:    "view",
		Summary: "Browse an archive interactively",
		Description: `Open a terminal browser over an archive's entries.

The left pane lists entries; typing after / filters them fuzzily (fzf
scoring). The right pane previews the selected payload: sources and
text data with syntax highlighting, code blobs with their header and
body, binaries as a hex dump.

Works on module archives, sidecar containers, and frozen executables.
Encrypted module archives need the archive key file via --key.`,
		Usage: "icepack view [--key file] <file>",
		Examples: []cli.Example{
			{
				Description: "Browse a frozen executable",
				Command:     "icepack view dist/app",
			},
			{
				Description: "Browse an encrypted module archive",
				Command:     "icepack view build/app.mar --key app.key",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("view", pflag.ContinueOnError)
			flagSet.StringVar(&keyPath, "key", "", "archive key file for encrypted module archives")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one file argument, got %d", len(args))
			}

			source, err := OpenSource(args[0], keyPath)
			if err != nil {
				return err
			}
			defer source.Close()

			program := tea.NewProgram(newModel(source), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("running viewer: %w", err)
			}
			return nil
		},
	}
}
