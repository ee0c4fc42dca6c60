// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/icepack-project/icepack/lib/codec"
	"github.com/icepack-project/icepack/lib/manifest"
)

// recordVersion is the build record format version. Bumping it makes
// every existing record stale, forcing a full rebuild — the escape
// hatch when staleness semantics change.
const recordVersion = 1

// record is the persisted staleness snapshot of a build node,
// written next to the node's output after a successful build. Params
// holds the node's build parameters as already-encoded deterministic
// CBOR; comparing encoded bytes gives per-field equality without a
// reflection walk.
type record struct {
	Version int           `cbor:"version"`
	Kind    string        `cbor:"kind"`
	BuiltAt int64         `cbor:"built_at"` // unix nanoseconds
	Output  int64         `cbor:"output"`   // output mtime, unix nanoseconds
	Params  []byte        `cbor:"params"`
	Inputs  []inputRecord `cbor:"inputs"`
}

// inputRecord snapshots one tracked input file.
type inputRecord struct {
	Name string `cbor:"name"`
	Path string `cbor:"path"`
	Type string `cbor:"type"`
	Size int64  `cbor:"size"`
}

// snapshotInputs converts manifest entries into input records,
// capturing current file sizes. Entries without a backing path
// (options, dependencies) record size -1.
func snapshotInputs(entries []manifest.Entry) []inputRecord {
	records := make([]inputRecord, 0, len(entries))
	for _, entry := range entries {
		size := int64(-1)
		if entry.Path != "" {
			if info, err := os.Stat(entry.Path); err == nil {
				size = info.Size()
			}
		}
		records = append(records, inputRecord{
			Name: entry.Name,
			Path: entry.Path,
			Type: string(entry.Type),
			Size: size,
		})
	}
	return records
}

// loadRecord reads and decodes a record file. A missing or unreadable
// record returns ok=false — the caller treats that as stale, never as
// an error.
func loadRecord(path string) (record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, false
	}
	var loaded record
	if err := codec.Unmarshal(data, &loaded); err != nil {
		return record{}, false
	}
	return loaded, true
}

// saveRecord writes a record atomically (temp file + rename). The
// record is written only after the node's output is complete, so a
// crash mid-build leaves the node stale rather than half-recorded.
// The output's mtime is snapshotted so a later out-of-band rewrite of
// the output is detected.
func saveRecord(path, outputPath, kind string, builtAt time.Time, params any, inputs []manifest.Entry) error {
	paramBytes, err := codec.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding build parameters: %w", err)
	}

	var outputMTime int64
	if info, err := os.Stat(outputPath); err == nil {
		outputMTime = info.ModTime().UnixNano()
	}

	data, err := codec.Marshal(record{
		Version: recordVersion,
		Kind:    kind,
		BuiltAt: builtAt.UnixNano(),
		Output:  outputMTime,
		Params:  paramBytes,
		Inputs:  snapshotInputs(inputs),
	})
	if err != nil {
		return fmt.Errorf("encoding build record: %w", err)
	}

	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, data, 0o644); err != nil {
		return fmt.Errorf("writing build record: %w", err)
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("replacing build record: %w", err)
	}
	return nil
}

// checkStale applies the generic staleness rules and returns a
// human-readable reason when the node must rebuild. The rules, in
// check order: output missing; no usable record; format version or
// node kind changed; output mtime differs from the recorded one;
// build parameters changed; input entry list changed; an input file's
// size changed or its modification time is newer than the recorded
// build time.
func checkStale(outputPath, recordPath, kind string, params any, inputs []manifest.Entry) (bool, string) {
	outputInfo, err := os.Stat(outputPath)
	if err != nil {
		return true, "output missing"
	}

	loaded, ok := loadRecord(recordPath)
	if !ok {
		return true, "no build record"
	}
	if loaded.Version != recordVersion {
		return true, fmt.Sprintf("record format version %d (current %d)", loaded.Version, recordVersion)
	}
	if loaded.Kind != kind {
		return true, fmt.Sprintf("record kind %q (expected %q)", loaded.Kind, kind)
	}
	if loaded.Output != 0 && outputInfo.ModTime().UnixNano() != loaded.Output {
		return true, "output modified since last build"
	}

	paramBytes, err := codec.Marshal(params)
	if err != nil {
		return true, "parameters not encodable"
	}
	if !bytes.Equal(paramBytes, loaded.Params) {
		return true, "build parameters changed"
	}

	if len(inputs) != len(loaded.Inputs) {
		return true, fmt.Sprintf("input count changed (%d -> %d)", len(loaded.Inputs), len(inputs))
	}
	builtAt := time.Unix(0, loaded.BuiltAt)
	for i, entry := range inputs {
		recorded := loaded.Inputs[i]
		if entry.Name != recorded.Name || entry.Path != recorded.Path || string(entry.Type) != recorded.Type {
			return true, fmt.Sprintf("input %q changed", entry.Name)
		}
		if entry.Path == "" {
			continue
		}
		info, err := os.Stat(entry.Path)
		if err != nil {
			return true, fmt.Sprintf("input %q unreadable", entry.Name)
		}
		if info.Size() != recorded.Size {
			return true, fmt.Sprintf("input %q size changed", entry.Name)
		}
		if info.ModTime().After(builtAt) {
			return true, fmt.Sprintf("input %q modified after last build", entry.Name)
		}
	}

	return false, ""
}
