// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testutils

import "regexp"

// IsError returns true if err is non-nil and err.Error() matches the
// supplied regexp. An empty regexp matches a nil error.
func IsError(err error, re string) bool {
	if err == nil && re == "" {
		return true
	}
	if err == nil {
		return false
	}
	matched, merr := regexp.MatchString(re, err.Error())
	if merr != nil {
		return false
	}
	return matched
}
