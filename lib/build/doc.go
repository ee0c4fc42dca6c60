// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package build implements the freeze pipeline's build nodes: the
// module archive, the payload container, the executable assembler,
// the collection directory, and the multipack dedup pass that runs
// before them.
//
// Nodes are created once per build from an immutable [Config] and
// assembled in dependency order by construction: the caller builds
// the module archive before the container that embeds it, and the
// container before the executable that carries it. There is no
// scheduler; the pipeline is single-threaded and synchronous.
//
// Every node except the collection directory persists a versioned
// build record ("the guts") next to its output and skips assembly
// when nothing it tracks has changed. The collection directory is
// always rebuilt: verifying a whole tree's integrity was judged not
// worth the complexity, so it wipes and recreates its output instead.
package build
