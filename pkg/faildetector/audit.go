// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package faildetector

import (
	"context"
	"time"

	"github.com/jscblack/oceanbase-dev/pkg/util/syncutil"
	"github.com/jscblack/oceanbase-dev/pkg/util/timeutil"
)

// auditEventKind is the event-kind literal carried by every audit row this
// package writes.
const auditEventKind = "FAILURE_DETECTOR"

// Audit tags for Registry mutations. On add, the tag is the event's own
// info string instead.
const (
	auditTagRemove  = "REMOVE FAILURE"
	auditTagRecover = "DETECT REVOCER"
)

// AuditRow is one appended record in the server event history.
type AuditRow struct {
	Timestamp   time.Time
	EventKind   string
	Tag         string
	Module      FailureModule
	Type        FailureType
	AutoRecover bool
}

// AuditSink appends one row to the server event history per Registry
// mutation. Sinks are best-effort: the Registry logs and ignores a failed
// append.
type AuditSink interface {
	Record(ctx context.Context, tag string, event FailureEvent, autoRecover bool) error
}

// MemoryAuditSink is an in-process AuditSink that retains every row, in
// append order. It stands in for the server event history table in tests
// and in deployments that scrape the history through other means.
type MemoryAuditSink struct {
	mu struct {
		syncutil.Mutex
		rows []AuditRow
	}
}

var _ AuditSink = (*MemoryAuditSink)(nil)

// NewMemoryAuditSink returns an empty MemoryAuditSink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// Record implements AuditSink.
func (s *MemoryAuditSink) Record(
	ctx context.Context, tag string, event FailureEvent, autoRecover bool,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.rows = append(s.mu.rows, AuditRow{
		Timestamp:   timeutil.Now(),
		EventKind:   auditEventKind,
		Tag:         tag,
		Module:      event.Module,
		Type:        event.Type,
		AutoRecover: autoRecover,
	})
	return nil
}

// Rows returns a snapshot copy of all recorded rows in append order.
func (s *MemoryAuditSink) Rows() []AuditRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]AuditRow, len(s.mu.rows))
	copy(rows, s.mu.rows)
	return rows
}
