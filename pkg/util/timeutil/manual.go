// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import (
	"sync/atomic"
	"time"
)

var testingNowFunc atomic.Pointer[func() time.Time]

// TestingSetNow changes the clock used by Now/Since/Until. It returns a
// closure that restores the real clock (not an earlier test clock); tests
// should defer it.
func TestingSetNow(f func() time.Time) func() {
	testingNowFunc.Store(&f)
	return func() {
		testingNowFunc.Store(nil)
	}
}

// A ManualTime is a "stopped clock" that only advances when told to,
// primarily intended for use in tests.
type ManualTime struct {
	nanos atomic.Int64
}

// NewManualTime constructs a new ManualTime with the supplied fixed point in
// time.
func NewManualTime(t time.Time) *ManualTime {
	mt := &ManualTime{}
	mt.nanos.Store(t.UnixNano())
	return mt
}

// Now returns the current time.
func (m *ManualTime) Now() time.Time {
	return time.Unix(0, m.nanos.Load())
}

// Advance moves the ManualTime forward by the given duration.
func (m *ManualTime) Advance(d time.Duration) {
	m.nanos.Add(int64(d))
}

// Backwards moves the ManualTime backward by the given duration.
func (m *ManualTime) Backwards(d time.Duration) {
	m.nanos.Add(-int64(d))
}
