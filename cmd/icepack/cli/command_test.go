// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "icepack",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "freeze",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					called = "freeze"
					return nil
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"freeze"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "freeze" {
		t.Errorf("dispatched to %q, want %q", called, "freeze")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "icepack",
		Subcommands: []*Command{
			{
				Name: "cache",
				Subcommands: []*Command{
					{
						Name: "prune",
						Run: func(_ context.Context, args []string, _ *slog.Logger) error {
							called = "cache prune"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"cache", "prune", "extra-arg"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "cache prune" {
		t.Errorf("dispatched to %q, want %q", called, "cache prune")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "extra-arg" {
		t.Errorf("args = %v, want [extra-arg]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var outputDir string
	var target string

	command := &Command{
		Name: "extract",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			flagSet.StringVarP(&outputDir, "output", "o", ".", "output directory")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--output", "/tmp/out", "app.pkg"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if outputDir != "/tmp/out" {
		t.Errorf("outputDir = %q, want %q", outputDir, "/tmp/out")
	}
	if target != "app.pkg" {
		t.Errorf("target = %q, want %q", target, "app.pkg")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "freeze",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("freeze", pflag.ContinueOnError)
			flagSet.Bool("dry-run", false, "plan only")
			flagSet.String("base-dir", "", "base directory")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--dry-rnu"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --dry-run") {
		t.Errorf("error = %q, want suggestion for '--dry-run'", errStr)
	}
	// Suggestion should be on the same line as the error, not buried.
	if !strings.Contains(errStr, "dry-rnu") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	// Should include a pointer to --help.
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "freeze",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("freeze", pflag.ContinueOnError)
			flagSet.Bool("dry-run", false, "plan only")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "icepack",
		Subcommands: []*Command{
			{Name: "inspect"},
			{Name: "freeze"},
			{Name: "version"},
		},
	}

	err := root.Execute(context.Background(), []string{"freze"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"freeze\"") {
		t.Errorf("error = %q, want suggestion for 'freeze'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "icepack",
		Subcommands: []*Command{
			{Name: "inspect"},
			{Name: "freeze"},
		},
	}

	err := root.Execute(context.Background(), []string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "icepack",
				Summary: "Freeze applications into standalone executables",
				Subcommands: []*Command{
					{Name: "freeze", Summary: "Run the freeze pipeline"},
				},
			}

			err := root.Execute(context.Background(), []string{helpArg})
			if err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "icepack",
		Subcommands: []*Command{
			{Name: "freeze", Summary: "Run the freeze pipeline"},
		},
	}

	err := root.Execute(context.Background(), []string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "icepack",
		Description: "Freeze applications into standalone executables.",
		Subcommands: []*Command{
			{Name: "freeze", Summary: "Run the freeze pipeline"},
			{Name: "inspect", Summary: "List the contents of an archive"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Build everything in icepack.yaml",
				Command:     "icepack freeze",
			},
			{
				Description: "List the contents of a frozen executable",
				Command:     "icepack inspect dist/app",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	// Verify structural elements are present.
	for _, want := range []string{
		"Freeze applications into standalone executables.",
		"Usage:",
		"icepack <command> [flags]",
		"Commands:",
		"freeze",
		"Run the freeze pipeline",
		"inspect",
		"List the contents of an archive",
		"Examples:",
		"icepack freeze",
		"icepack inspect dist/app",
		"Run 'icepack <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "extract",
		Summary: "Extract entries from an archive",
		Usage:   "icepack extract <file> [name...] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			flagSet.StringP("output", "o", ".", "output directory")
			flagSet.String("key", "", "archive key file")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"icepack extract <file> [name...] [flags]",
		"Flags:",
		"output",
		"key",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "icepack"}
	cache := &Command{Name: "cache", parent: root}
	prune := &Command{Name: "prune", parent: cache}

	if got := root.fullName(); got != "icepack" {
		t.Errorf("root.fullName() = %q, want %q", got, "icepack")
	}
	if got := cache.fullName(); got != "icepack cache" {
		t.Errorf("cache.fullName() = %q, want %q", got, "icepack cache")
	}
	if got := prune.fullName(); got != "icepack cache prune" {
		t.Errorf("prune.fullName() = %q, want %q", got, "icepack cache prune")
	}
}
