// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package hosttool provides typed access to the external executables
// the freeze pipeline drives: the runtime's compiler, the debug-symbol
// stripper, the binary compactor, the section editor (objcopy), and
// the executable resource editor. All invocations capture stdout and
// stderr separately; on failure, trimmed stderr is folded into the
// returned error so one log line tells the whole story.
package hosttool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tool is one external executable resolved to a concrete path.
type Tool struct {
	// Name is the short name used in configuration and log output.
	Name string

	// Path is the resolved executable path.
	Path string
}

// Lookup resolves a tool by name or explicit path. A value containing
// a path separator is taken literally; a bare name is searched on
// PATH. Missing tools are reported with the name so configuration
// errors read well.
func Lookup(name string) (Tool, error) {
	if strings.ContainsRune(name, '/') {
		return Tool{Name: name, Path: name}, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return Tool{}, fmt.Errorf("tool %q not found on PATH: %w", name, err)
	}
	return Tool{Name: name, Path: path}, nil
}

// Run executes the tool and returns stdout. Stderr is captured
// separately and included in the error on a non-zero exit.
func (t Tool) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, t.Path, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w (stderr: %s)",
			t.Name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// RunBytes executes the tool and returns raw stdout bytes. Used when
// the tool's output is a binary payload (compiled code blobs) rather
// than text.
func (t Tool) RunBytes(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, t.Path, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w (stderr: %s)",
			t.Name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Stderr extracts the captured stderr text from an error returned by
// Run or RunBytes. Returns "" when the error carries none. Callers
// use this to classify tool failures (e.g. the resource editor's
// "no resource table" diagnosis) without string-matching the whole
// error chain.
func Stderr(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	marker := "(stderr: "
	start := strings.LastIndex(text, marker)
	if start < 0 || !strings.HasSuffix(text, ")") {
		return ""
	}
	return text[start+len(marker) : len(text)-1]
}
