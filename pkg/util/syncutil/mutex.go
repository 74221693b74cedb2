// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package syncutil provides the mutex type used throughout this module.
// It wraps sync.Mutex so that lock-dependent invariants can be annotated
// with AssertHeld at the point where they are assumed.
package syncutil

import "sync"

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}

// AssertHeld may panic if the mutex is not locked (but it is not required
// to do so). Functions that require a mutex to be held call AssertHeld so
// the requirement is documented and potentially checked.
func (m *Mutex) AssertHeld() {
}
