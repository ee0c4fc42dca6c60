// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package bincache memoizes the strip/compact processing of native
// binaries. Processing a shared library is expensive (an external
// strip run plus an optional compactor run), and the same library
// shows up in build after build, so results are kept in a
// content-addressed cache under the build configuration's cache path.
//
// The cache key is the file's content digest; the flag combination
// selects a subdirectory, so the same library stripped and unstripped
// coexist. Each subdirectory carries a CBOR index from digest to
// stored file name, rewritten atomically on every insert. There is no
// cross-process locking: correctness assumes one build at a time,
// which the single-threaded pipeline guarantees.
package bincache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/icepack-project/icepack/lib/codec"
	"github.com/icepack-project/icepack/lib/hosttool"
)

// fileDomainKey is the BLAKE3 keyed-hash domain for cache content
// digests: ASCII "icepack.bincache.file", zero-padded to 32 bytes.
var fileDomainKey = [32]byte{
	'i', 'c', 'e', 'p', 'a', 'c', 'k', '.', 'b', 'i', 'n', 'c', 'a', 'c', 'h', 'e',
	'.', 'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// indexFileName is the per-flag-directory index file.
const indexFileName = "index.cbor"

// Options configures a cache.
type Options struct {
	// Strip is the debug-symbol stripper. A zero-value tool disables
	// stripping even when a caller asks for it.
	Strip hosttool.Tool

	// Compact is the size compactor (an upx-style packer). A
	// zero-value tool disables compaction.
	Compact hosttool.Tool

	// Exclude lists glob patterns matched against a binary's base
	// name; matching binaries bypass processing entirely (some
	// libraries break under strip or compaction).
	Exclude []string

	// Logger receives cache activity at debug level.
	Logger *slog.Logger
}

// Cache is the content-addressed strip/compact cache. Not safe for
// concurrent use; the pipeline is single-threaded by design.
type Cache struct {
	root    string
	options Options

	// memo short-circuits repeated processing of the same source
	// path within one build, avoiding re-hashing.
	memo map[memoKey]string

	// indexes holds the loaded per-flag-directory indexes:
	// digest hex -> stored file name.
	indexes map[string]map[string]string
}

type memoKey struct {
	path    string
	strip   bool
	compact bool
}

// New creates a cache rooted at the given directory. The directory is
// created on first use.
func New(root string, options Options) *Cache {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		root:    root,
		options: options,
		memo:    make(map[memoKey]string),
		indexes: make(map[string]map[string]string),
	}
}

// Process returns the path of the processed copy of the binary at
// path, stripping and/or compacting per the flags. The returned path
// is inside the cache; callers copy from it, never mutate it. When
// neither flag is effective (both disabled, or the name is excluded),
// the original path is returned unchanged.
func (c *Cache) Process(ctx context.Context, path string, strip, compact bool) (string, error) {
	strip = strip && c.options.Strip.Path != ""
	compact = compact && c.options.Compact.Path != ""
	if !strip && !compact {
		return path, nil
	}

	base := filepath.Base(path)
	for _, pattern := range c.options.Exclude {
		matched, err := filepath.Match(pattern, base)
		if err != nil {
			return "", fmt.Errorf("bad cache exclusion pattern %q: %w", pattern, err)
		}
		if matched {
			c.options.Logger.Debug("binary excluded from processing", "binary", base, "pattern", pattern)
			return path, nil
		}
	}

	key := memoKey{path: path, strip: strip, compact: compact}
	if cached, ok := c.memo[key]; ok {
		return cached, nil
	}

	digest, err := hashFile(path)
	if err != nil {
		return "", err
	}
	digestHex := fmt.Sprintf("%x", digest)

	directory := filepath.Join(c.root, flagDir(strip, compact))
	index, err := c.loadIndex(directory)
	if err != nil {
		return "", err
	}

	if storedName, ok := index[digestHex]; ok {
		storedPath := filepath.Join(directory, storedName)
		if _, err := os.Stat(storedPath); err == nil {
			c.options.Logger.Debug("binary cache hit", "binary", base, "digest", digestHex[:12])
			c.memo[key] = storedPath
			return storedPath, nil
		}
		// Index row without a backing file: fall through and rebuild.
		delete(index, digestHex)
	}

	storedName := digestHex[:16] + "-" + base
	storedPath := filepath.Join(directory, storedName)
	if err := copyFile(path, storedPath, 0o755); err != nil {
		return "", fmt.Errorf("copying %s into binary cache: %w", path, err)
	}

	if strip {
		if _, err := c.options.Strip.Run(ctx, storedPath); err != nil {
			os.Remove(storedPath)
			return "", fmt.Errorf("stripping %s: %w", base, err)
		}
	}
	if compact {
		if _, err := c.options.Compact.Run(ctx, storedPath); err != nil {
			os.Remove(storedPath)
			return "", fmt.Errorf("compacting %s: %w", base, err)
		}
	}

	index[digestHex] = storedName
	if err := c.saveIndex(directory, index); err != nil {
		return "", err
	}

	c.options.Logger.Debug("binary processed into cache",
		"binary", base, "digest", digestHex[:12], "strip", strip, "compact", compact)
	c.memo[key] = storedPath
	return storedPath, nil
}

// Stats reports the number of stored binaries and their total size
// across all flag directories.
func (c *Cache) Stats() (count int, totalBytes int64, err error) {
	for _, strip := range []bool{false, true} {
		for _, compact := range []bool{false, true} {
			directory := filepath.Join(c.root, flagDir(strip, compact))
			entries, err := os.ReadDir(directory)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return 0, 0, fmt.Errorf("reading cache directory: %w", err)
			}
			for _, entry := range entries {
				if entry.Name() == indexFileName || entry.IsDir() {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				count++
				totalBytes += info.Size()
			}
		}
	}
	return count, totalBytes, nil
}

// Prune removes every stored binary and index. The next build
// repopulates the cache from scratch.
func (c *Cache) Prune() error {
	for _, strip := range []bool{false, true} {
		for _, compact := range []bool{false, true} {
			directory := filepath.Join(c.root, flagDir(strip, compact))
			if err := os.RemoveAll(directory); err != nil {
				return fmt.Errorf("pruning %s: %w", directory, err)
			}
		}
	}
	c.memo = make(map[memoKey]string)
	c.indexes = make(map[string]map[string]string)
	return nil
}

func (c *Cache) loadIndex(directory string) (map[string]string, error) {
	if index, ok := c.indexes[directory]; ok {
		return index, nil
	}

	index := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(directory, indexFileName))
	switch {
	case os.IsNotExist(err):
		// Fresh directory.
	case err != nil:
		return nil, fmt.Errorf("reading cache index: %w", err)
	default:
		if err := codec.Unmarshal(data, &index); err != nil {
			// A corrupt index only costs reprocessing; start over.
			c.options.Logger.Warn("binary cache index is corrupt, rebuilding", "directory", directory, "error", err)
			index = make(map[string]string)
		}
	}

	c.indexes[directory] = index
	return index, nil
}

func (c *Cache) saveIndex(directory string, index map[string]string) error {
	data, err := codec.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding cache index: %w", err)
	}

	indexPath := filepath.Join(directory, indexFileName)
	temporary := indexPath + ".tmp"
	if err := os.WriteFile(temporary, data, 0o644); err != nil {
		return fmt.Errorf("writing cache index: %w", err)
	}
	if err := os.Rename(temporary, indexPath); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("replacing cache index: %w", err)
	}
	return nil
}

// flagDir names the subdirectory for a flag combination, e.g.
// "strip1_compact0".
func flagDir(strip, compact bool) string {
	return fmt.Sprintf("strip%d_compact%d", boolBit(strip), boolBit(compact))
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// hashFile streams the file through a keyed BLAKE3 hasher.
func hashFile(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		panic("bincache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return [32]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// copyFile copies src to dst with the given mode, creating parent
// directories as needed.
func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		os.Remove(dst)
		return err
	}
	return destination.Close()
}
