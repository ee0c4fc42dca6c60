// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package inspect implements "icepack inspect", which lists the index
// of a module archive, a payload container, or a frozen executable.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/icepack-project/icepack/cmd/icepack/cli"
	"github.com/icepack-project/icepack/lib/archive"
)

// Command returns the "inspect" command.
func Command() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:    "inspect",
		Summary: "List the contents of an archive or frozen executable",
		Description: `Print the index of an icepack artifact.

The file may be a module archive (.mar), a sidecar payload container
(.pkg), or a frozen executable with a container appended to it; the
format is detected from the file itself, not its name.

Exit code 1 means the file carries no icepack format.`,
		Usage: "icepack inspect [--json] <file>",
		Examples: []cli.Example{
			{
				Description: "List a frozen executable's payloads",
				Command:     "icepack inspect dist/app",
			},
			{
				Description: "Machine-readable index of a module archive",
				Command:     "icepack inspect --json build/app.mar",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "emit the index as JSON")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one file argument, got %d", len(args))
			}
			path := args[0]

			kind, err := archive.DetectKind(path)
			if err != nil {
				return err
			}
			switch kind {
			case archive.KindModuleArchive:
				return inspectModuleArchive(path, asJSON)
			case archive.KindContainer:
				return inspectContainer(path, asJSON)
			default:
				fmt.Fprintf(os.Stderr, "%s: no icepack archive found\n", path)
				return &cli.ExitError{Code: 1}
			}
		},
	}
}

// report is the JSON output shape for both formats.
type report struct {
	Path       string      `json:"path"`
	Format     string      `json:"format"`
	RuntimeLib string      `json:"runtime_lib,omitempty"`
	Encrypted  bool        `json:"encrypted,omitempty"`
	TotalSize  int64       `json:"total_size,omitempty"`
	Entries    []entryInfo `json:"entries"`
}

type entryInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Compression string `json:"compression"`
	StoredSize  uint32 `json:"stored_size"`
	RawSize     uint32 `json:"raw_size"`
}

func inspectContainer(path string, asJSON bool) error {
	reader, file, err := archive.OpenContainerFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	out := report{
		Path:       path,
		Format:     "container",
		RuntimeLib: reader.RuntimeLib,
		TotalSize:  reader.TotalSize(),
	}
	for _, entry := range reader.Entries {
		out.Entries = append(out.Entries, entryInfo{
			Name:        entry.Name,
			Type:        typeName(entry.TypeCode),
			Compression: entry.Compression.String(),
			StoredSize:  entry.StoredSize,
			RawSize:     entry.RawSize,
		})
	}

	if asJSON {
		return writeJSON(out)
	}

	fmt.Printf("%s: payload container, %d entries, %d bytes\n", path, len(reader.Entries), reader.TotalSize())
	fmt.Printf("runtime library: %s\n\n", reader.RuntimeLib)
	return writeTable(out.Entries)
}

func inspectModuleArchive(path string, asJSON bool) error {
	reader, file, err := archive.OpenModuleArchive(path)
	if err != nil {
		return err
	}
	defer file.Close()

	out := report{
		Path:      path,
		Format:    "module archive",
		Encrypted: reader.Encrypted,
	}
	for _, entry := range reader.Entries {
		out.Entries = append(out.Entries, entryInfo{
			Name:        entry.Name,
			Type:        typeName(entry.TypeCode),
			Compression: entry.Compression.String(),
			StoredSize:  entry.StoredSize,
			RawSize:     entry.RawSize,
		})
	}

	if asJSON {
		return writeJSON(out)
	}

	encryption := "plaintext"
	if reader.Encrypted {
		encryption = "encrypted"
	}
	fmt.Printf("%s: module archive, %d entries, %s\n\n", path, len(reader.Entries), encryption)
	return writeTable(out.Entries)
}

func writeJSON(out report) error {
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func writeTable(entries []entryInfo) error {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tCOMPRESSION\tSTORED\tRAW")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			entry.Name, entry.Type, entry.Compression, entry.StoredSize, entry.RawSize)
	}
	return tw.Flush()
}

// typeName maps a container type code to a display name. Extensions,
// shared libraries, and executables all store code 'b', so they are
// indistinguishable here.
func typeName(code byte) string {
	switch code {
	case 'm':
		return "module"
	case 's':
		return "source"
	case 'b':
		return "binary"
	case 'x':
		return "data"
	case 'z':
		return "archive"
	case 'a':
		return "container"
	case 'Z':
		return "zip"
	case 'd':
		return "dependency"
	case 'o':
		return "option"
	default:
		return fmt.Sprintf("0x%02x", code)
	}
}
