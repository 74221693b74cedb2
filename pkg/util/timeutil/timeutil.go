// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package timeutil

import "time"

// FullTimeFormat is the time format used to display any timestamp
// with date, time and time zone data.
const FullTimeFormat = "2006-01-02 15:04:05.999999-07:00:00"

// Now returns the current local time. It is a thin wrapper around time.Now
// so that callers have a single seam to intercept for deterministic tests
// (see TestingSetNow).
func Now() time.Time {
	if f := testingNowFunc.Load(); f != nil {
		return (*f)()
	}
	return time.Now()
}

// Since returns the time elapsed since t, using Now as a reference point so
// that it respects TestingSetNow.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration until t, using Now as a reference point.
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}
