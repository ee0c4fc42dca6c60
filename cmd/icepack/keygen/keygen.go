// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package keygen implements "icepack keygen", which creates an archive
// encryption key file.
package keygen

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/icepack-project/icepack/cmd/icepack/cli"
	"github.com/icepack-project/icepack/lib/keyfile"
)

// Command returns the "keygen" command.
func Command() *cli.Command {
	var (
		output string
		force  bool
	)

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an archive encryption key file",
		Description: `Create a new module archive encryption key.

The key file holds an age identity and the 32-byte archive key sealed
to it; the plaintext key never touches disk. Point a job's "keyfile"
option at the file to encrypt its module archive, and ship the same
file to anyone who needs to extract from the archive.

The file is written with mode 0600. An existing file is never
overwritten unless --force is given: regenerating a key makes every
archive sealed with the old one unreadable.`,
		Usage: "icepack keygen [-o file] [--force]",
		Examples: []cli.Example{
			{
				Description: "Generate a key next to the build file",
				Command:     "icepack keygen -o app.key",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVarP(&output, "output", "o", "icepack.key", "key file to write")
			flagSet.BoolVar(&force, "force", false, "overwrite an existing key file")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen takes no positional arguments, got %q", args[0])
			}

			if !force {
				if _, err := os.Stat(output); err == nil {
					return fmt.Errorf("%s already exists (use --force to replace it and orphan its archives)", output)
				}
			}

			file, err := keyfile.Generate()
			if err != nil {
				return err
			}
			defer file.Close()

			if err := file.Write(output); err != nil {
				return err
			}

			logger.Info("key file written", "path", output, "recipient", file.Recipient)
			fmt.Printf("%s\n", output)
			return nil
		},
	}
}
