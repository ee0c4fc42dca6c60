// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for testability.
//
// The build pipeline stamps every build record with the time it was
// written and compares input mtimes against it. Production code
// injects Real(); tests inject a Fake whose time only moves when the
// test says so, which makes staleness decisions deterministic.
package clock

import "time"

// Clock abstracts the current time. Production code injects Real();
// tests inject Fake() with deterministic time control.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
