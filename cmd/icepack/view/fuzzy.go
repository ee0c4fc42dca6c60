// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package view

import (
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

func init() {
	// Select fzf's default scoring scheme (bonus tables are package
	// globals that must be initialized before the first match).
	algo.Init("default")
}

// fuzzyResult is one entry's match against the filter pattern.
type fuzzyResult struct {
	// Score is the fzf match score; zero means no match.
	Score int

	// Positions are the matched rune indices in the text, for
	// highlighting.
	Positions []int
}

// fuzzyMatch scores text against a lowercase pattern using fzf's V2
// algorithm. Matching is case-insensitive; the slab may be nil or a
// reusable allocation arena for bulk matching.
func fuzzyMatch(text string, pattern []rune, slab *util.Slab) fuzzyResult {
	if len(pattern) == 0 {
		return fuzzyResult{}
	}

	chars := util.ToChars([]byte(strings.ToLower(text)))
	result, positions := algo.FuzzyMatchV2(false, true, true, &chars, pattern, true, slab)
	if result.Score <= 0 {
		return fuzzyResult{}
	}

	matched := fuzzyResult{Score: result.Score}
	if positions != nil {
		matched.Positions = *positions
	}
	return matched
}

// lowerPattern prepares a filter string for fuzzyMatch.
func lowerPattern(filter string) []rune {
	return []rune(strings.ToLower(strings.TrimSpace(filter)))
}
