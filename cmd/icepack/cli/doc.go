// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the icepack CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in cmd/icepack/commands
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// Every Run function receives a context (cancelled on SIGINT/SIGTERM by
// main) and a structured logger from [NewCommandLogger], which writes
// human-readable text when stderr is a terminal and JSON when it is
// piped.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3). This is implemented in
// suggest.go.
package cli
