// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package log provides leveled, context-tagged logging for the failure
// detector. It mirrors the calling convention of cockroach's util/log
// (Infof/Warningf/Errorf take a context first, and context tags set with
// logtags are rendered as a bracketed prefix), trimmed down to a single
// stderr sink: no channels, no structured event payloads, no log files.
package log

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// Severity orders log lines the way cockroach's severity levels do, lowest
// to highest.
type Severity int32

// Severity levels, in increasing order of urgency.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) shortName() string {
	switch s {
	case SeverityInfo:
		return "I"
	case SeverityWarning:
		return "W"
	case SeverityError:
		return "E"
	case SeverityFatal:
		return "F"
	default:
		return "?"
	}
}

// exitFunc is called by Fatalf after the message is written; overridden by
// tests so a Fatalf call doesn't kill the test binary.
var exitFunc = os.Exit

func output(ctx context.Context, sev Severity, depth int, format string, args []interface{}) {
	_ = depth
	now := time.Now().UTC().Format("2006-01-02 15:04:05.000000")
	msg := string(redact.Sprintf(format, args...))
	if tags := logtags.FromContext(ctx); tags != nil {
		if tagStr := tags.String(); tagStr != "" {
			fmt.Fprintf(os.Stderr, "%s %s [%s] %s\n", now, sev.shortName(), tagStr, msg)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n", now, sev.shortName(), msg)
}

// Infof logs to the INFO severity.
func Infof(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityInfo, 1, format, args)
}

// Warningf logs to the WARNING severity.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityWarning, 1, format, args)
}

// Errorf logs to the ERROR severity.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityError, 1, format, args)
}

// Fatalf logs to the FATAL severity and terminates the process. Library code
// in this module returns errors instead; the demo binary uses Fatalf for
// unrecoverable startup failures.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityFatal, 1, format, args)
	exitFunc(1)
}

// VEventf logs at INFO unconditionally; the "V" prefix is kept for call-site
// familiarity with cockroach's verbosity-gated logging even though this
// package has no verbosity flags of its own.
func VEventf(ctx context.Context, _ int32, format string, args ...interface{}) {
	Infof(ctx, format, args...)
}

// opsLogger is the "Ops" channel: operator-facing messages about events that
// change externally visible cluster behavior. Cockroach routes these to a
// dedicated OPS log channel; here they share the stderr sink but keep the
// distinct call site (log.Ops.Infof(...)) so that call sites read the same
// way they would against the real channel-based logger.
type opsLogger struct{}

// Ops is the operator-facing logging channel.
var Ops = opsLogger{}

func (opsLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	Infof(ctx, format, args...)
}

func (opsLogger) Warningf(ctx context.Context, format string, args ...interface{}) {
	Warningf(ctx, format, args...)
}

func (opsLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	Errorf(ctx, format, args...)
}
