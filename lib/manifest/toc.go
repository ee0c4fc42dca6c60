// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import "slices"

// TOC is an ordered table of entries with set semantics on the entry
// name: appending a name already present is a no-op, so the first
// occurrence in manifest order is canonical. Every duplicate-resolution
// rule in the pipeline builds on this invariant.
//
// The zero value is an empty table ready for use.
type TOC struct {
	entries []Entry
	names   map[string]bool
}

// NewTOC builds a table from a list of entries, applying the keep-first
// rule to duplicates.
func NewTOC(entries ...Entry) *TOC {
	toc := &TOC{}
	for _, entry := range entries {
		toc.Append(entry)
	}
	return toc
}

// Append adds an entry unless its name is already present. Returns
// true if the entry was added.
func (toc *TOC) Append(entry Entry) bool {
	if toc.names == nil {
		toc.names = make(map[string]bool)
	}
	if toc.names[entry.Name] {
		return false
	}
	toc.names[entry.Name] = true
	toc.entries = append(toc.entries, entry)
	return true
}

// Extend appends every entry of other, keeping first occurrences.
func (toc *TOC) Extend(other *TOC) {
	if other == nil {
		return
	}
	for _, entry := range other.entries {
		toc.Append(entry)
	}
}

// Subtract returns a new table with every entry of toc whose name does
// not appear in other, preserving order. The receiver is unchanged.
func (toc *TOC) Subtract(other *TOC) *TOC {
	result := NewTOC()
	for _, entry := range toc.entries {
		if other != nil && other.Contains(entry.Name) {
			continue
		}
		result.Append(entry)
	}
	return result
}

// Contains reports whether an entry with the given name is present.
func (toc *TOC) Contains(name string) bool {
	return toc.names[name]
}

// Lookup returns the entry with the given name.
func (toc *TOC) Lookup(name string) (Entry, bool) {
	if !toc.names[name] {
		return Entry{}, false
	}
	for _, entry := range toc.entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return Entry{}, false
}

// Entries returns the entries in table order. The slice is a copy;
// mutating it does not affect the table.
func (toc *TOC) Entries() []Entry {
	return slices.Clone(toc.entries)
}

// Len returns the number of entries.
func (toc *TOC) Len() int {
	return len(toc.entries)
}

// Filter returns a new table containing the entries for which keep
// returns true, in original order.
func (toc *TOC) Filter(keep func(Entry) bool) *TOC {
	result := NewTOC()
	for _, entry := range toc.entries {
		if keep(entry) {
			result.Append(entry)
		}
	}
	return result
}

// SortedByName returns a new table sorted by entry name. Used by the
// module archive, whose index order is part of the reproducibility
// contract.
func (toc *TOC) SortedByName() *TOC {
	sorted := slices.Clone(toc.entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return NewTOC(sorted...)
}

// Validate checks every entry and returns the first problem found.
func (toc *TOC) Validate() error {
	for _, entry := range toc.entries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
