// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package codeobj

import (
	"context"
	"fmt"

	"github.com/icepack-project/icepack/lib/hosttool"
)

// Compiler turns module source text into a code blob. Failures are
// per-module: the module archive drops the entry and continues, so
// implementations should return errors that name the cause (syntax
// the target runtime does not support is the common one).
type Compiler interface {
	Compile(ctx context.Context, name, sourcePath string) (*Blob, error)
}

// ToolCompiler drives the runtime's compiler executable. The tool is
// invoked as `<compiler> <sourcePath>` and must write the serialized
// code object to stdout; icepack wraps it into a blob carrying the
// source path.
type ToolCompiler struct {
	Tool hosttool.Tool
}

// Compile implements Compiler.
func (c ToolCompiler) Compile(ctx context.Context, name, sourcePath string) (*Blob, error) {
	body, err := c.Tool.RunBytes(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("compiling module %q: %w", name, err)
	}
	return &Blob{SourcePath: sourcePath, Body: body}, nil
}
