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
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/jscblack/oceanbase-dev/pkg/util/buildutil"
	"github.com/jscblack/oceanbase-dev/pkg/util/log"
	"github.com/jscblack/oceanbase-dev/pkg/util/syncutil"
)

// FaultFamily identifies one of the fault families the detection loop
// probes for. Each family has a canonical (Type, Module) event identity and
// a latch readable without the Registry lock.
type FaultFamily int

// The set of fault families, in detection order.
const (
	FamilyClogHang FaultFamily = iota
	FamilyDataDiskHang
	FamilyClogFull
	FamilySchemaNotRefreshed
	FamilyElectionSilent
	// NumFamilies is the number of fault families; it must stay last.
	NumFamilies
)

func (f FaultFamily) String() string {
	switch f {
	case FamilyClogHang:
		return "clog_hang"
	case FamilyDataDiskHang:
		return "data_disk_hang"
	case FamilyClogFull:
		return "clog_full"
	case FamilySchemaNotRefreshed:
		return "schema_not_refreshed"
	case FamilyElectionSilent:
		return "election_silent"
	default:
		return fmt.Sprintf("FaultFamily(%d)", int(f))
	}
}

// familyOf maps an event's (Type, Module) identity to its fault family.
// Events that do not correspond to any probed family (externally reported
// faults of other shapes) have no latch.
func familyOf(e FailureEvent) (FaultFamily, bool) {
	switch {
	case e.Type == ProcessHang && e.Module == ModuleLog:
		return FamilyClogHang, true
	case e.Type == ProcessHang && e.Module == ModuleStorage:
		return FamilyDataDiskHang, true
	case e.Type == ResourceNotEnough && e.Module == ModuleLog:
		return FamilyClogFull, true
	case e.Type == SchemaNotRefreshed && e.Module == ModuleSchema:
		return FamilySchemaNotRefreshed, true
	case e.Type == EnterElectionSilent && e.Module == ModuleLog:
		return FamilyElectionSilent, true
	default:
		return 0, false
	}
}

type registryState int

const (
	registryIdle registryState = iota
	registryRunning
	registryStopped
)

// Registry is the deduplicated collection of currently-active failure
// events, each with an optional recovery predicate. All mutating and
// listing operations serialize on a single mutex; the per-family latches
// are plain atomics readable without it.
//
// A latch is true iff the Registry currently holds the family's canonical
// event, so the latches never disagree with the active list outside a
// critical section.
type Registry struct {
	sink    AuditSink
	metrics *Metrics

	latches [NumFamilies]atomic.Bool

	mu struct {
		syncutil.Mutex
		state   registryState
		entries []RegistryEntry
	}
}

// NewRegistry returns an idle Registry reporting audit rows to sink.
// Operations fail with ErrNotInit until start is called.
func NewRegistry(sink AuditSink, metrics *Metrics) *Registry {
	return &Registry{sink: sink, metrics: metrics}
}

func (r *Registry) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.entries = nil
	r.mu.state = registryRunning
}

func (r *Registry) markStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.state = registryStopped
}

// destroy resets the per-family latches. It must only be called once the
// loops have drained, after markStopped.
func (r *Registry) destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for f := FaultFamily(0); f < NumFamilies; f++ {
		r.latches[f].Store(false)
		r.metrics.setLatch(f, false)
	}
	r.mu.entries = nil
}

// checkRunningLocked distinguishes a registry that was never started from
// one that has been stopped. Both are not running: the never-started error
// matches ErrNotInit and ErrNotRunning, the stopped one only ErrNotRunning.
func (r *Registry) checkRunningLocked() error {
	r.mu.AssertHeld()
	switch r.mu.state {
	case registryIdle:
		return errors.Mark(ErrNotInit, ErrNotRunning)
	case registryStopped:
		return ErrNotRunning
	default:
		return nil
	}
}

// AddFailureEvent records a failure event without a recovery predicate; it
// will only clear when RemoveFailureEvent is called (for the probed
// families, by the detection loop observing the fault gone).
func (r *Registry) AddFailureEvent(ctx context.Context, event FailureEvent) error {
	return r.add(ctx, event, nil)
}

// AddFailureEventWithRecovery records a failure event along with a
// predicate the recovery loop evaluates every pass; the event is removed
// once the predicate returns true. The predicate is invoked with the
// Registry's mutex held and must not call back into the Registry.
func (r *Registry) AddFailureEventWithRecovery(
	ctx context.Context, event FailureEvent, pred RecoveryPredicate,
) error {
	if pred == nil {
		return errors.Wrap(ErrInvalidArgument, "nil recovery predicate")
	}
	return r.add(ctx, event, pred)
}

func (r *Registry) add(ctx context.Context, event FailureEvent, pred RecoveryPredicate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRunningLocked(); err != nil {
		return errors.Wrapf(err, "adding %v", event)
	}
	for i := range r.mu.entries {
		if r.mu.entries[i].Event.Equal(event) {
			return errors.Wrapf(ErrEntryExists, "adding %v", event)
		}
	}
	r.mu.entries = append(r.mu.entries, RegistryEntry{Event: event, Predicate: pred})
	r.setLatchLocked(event, true)
	r.recordAuditLocked(ctx, event.Info, event, pred != nil)
	log.Ops.Infof(ctx, "failure event reported: %v (auto recover: %v)", event, pred != nil)
	r.assertLatchesLocked()
	return nil
}

// RemoveFailureEvent removes the active event equal to event under the
// (Type, Module) identity. The audit row is written before the entry is
// removed so it can still reference the recovery predicate's presence.
func (r *Registry) RemoveFailureEvent(ctx context.Context, event FailureEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRunningLocked(); err != nil {
		return errors.Wrapf(err, "removing %v", event)
	}
	idx := -1
	for i := range r.mu.entries {
		if r.mu.entries[i].Event.Equal(event) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errors.Wrapf(ErrEntryNotExist, "removing %v", event)
	}
	entry := r.mu.entries[idx]
	r.recordAuditLocked(ctx, auditTagRemove, entry.Event, entry.Predicate != nil)
	r.mu.entries = append(r.mu.entries[:idx], r.mu.entries[idx+1:]...)
	r.setLatchLocked(entry.Event, false)
	log.Ops.Infof(ctx, "failure event removed: %v", entry.Event)
	r.assertLatchesLocked()
	return nil
}

// GetSpecifiedLevelEvents returns a snapshot of the active events at the
// given severity level, in insertion order.
func (r *Registry) GetSpecifiedLevelEvents(level FailureLevel) ([]FailureEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRunningLocked(); err != nil {
		return nil, errors.Wrapf(err, "listing %v events", level)
	}
	var results []FailureEvent
	for i := range r.mu.entries {
		if r.mu.entries[i].Event.Level == level {
			results = append(results, r.mu.entries[i].Event)
		}
	}
	return results, nil
}

// QueryLatch reads the family's latch without taking the Registry lock.
func (r *Registry) QueryLatch(family FaultFamily) bool {
	return r.latches[family].Load()
}

// IsClogDiskHasFatalError reports whether the commit-log disk currently has
// a fatal error: either a detected hang or disk exhaustion.
func (r *Registry) IsClogDiskHasFatalError() bool {
	return r.latches[FamilyClogHang].Load() || r.latches[FamilyClogFull].Load()
}

// IsDataDiskHasFatalError reports whether the data disk currently has a
// fatal error.
func (r *Registry) IsDataDiskHasFatalError() bool {
	return r.latches[FamilyDataDiskHang].Load()
}

// IsSchemaNotRefreshed reports whether the tenant's schema is currently
// known to be stale.
func (r *Registry) IsSchemaNotRefreshed() bool {
	return r.latches[FamilySchemaNotRefreshed].Load()
}

// detectRecovery is the recovery loop body: it evaluates every present
// recovery predicate and removes the entries whose predicate reports the
// underlying condition cleared. Detection-loop events carry no predicate
// and are never touched here.
func (r *Registry) detectRecovery(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.state != registryRunning {
		return
	}
	if len(r.mu.entries) > 0 {
		log.Infof(ctx, "evaluating recovery predicates over %d active events", len(r.mu.entries))
	}
	for idx := 0; idx < len(r.mu.entries); idx++ {
		entry := r.mu.entries[idx]
		if entry.Predicate == nil {
			continue
		}
		if !evalPredicate(ctx, entry.Predicate) {
			continue
		}
		log.Ops.Infof(ctx, "recovery detected, removing failure event: %v", entry.Event)
		r.recordAuditLocked(ctx, auditTagRecover, entry.Event, true)
		r.mu.entries = append(r.mu.entries[:idx], r.mu.entries[idx+1:]...)
		r.setLatchLocked(entry.Event, false)
		idx--
	}
	r.assertLatchesLocked()
}

// evalPredicate invokes pred, treating a panic as "not recovered".
func evalPredicate(ctx context.Context, pred RecoveryPredicate) (recovered bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf(ctx, "recovery predicate panicked: %v", rec)
			recovered = false
		}
	}()
	return pred()
}

func (r *Registry) setLatchLocked(event FailureEvent, active bool) {
	r.mu.AssertHeld()
	if family, ok := familyOf(event); ok {
		r.latches[family].Store(active)
		r.metrics.setLatch(family, active)
	}
}

func (r *Registry) recordAuditLocked(
	ctx context.Context, tag string, event FailureEvent, autoRecover bool,
) {
	r.mu.AssertHeld()
	if r.sink == nil {
		return
	}
	if err := r.sink.Record(ctx, tag, event, autoRecover); err != nil {
		log.Warningf(ctx, "appending to server event history failed: %v", err)
		return
	}
	r.metrics.incAuditRows()
}

// assertLatchesLocked checks, under the invariants build tag, that each
// family's latch agrees with the presence of its canonical event.
func (r *Registry) assertLatchesLocked() {
	if !buildutil.Invariants {
		return
	}
	r.mu.AssertHeld()
	var present [NumFamilies]bool
	for i := range r.mu.entries {
		if family, ok := familyOf(r.mu.entries[i].Event); ok {
			present[family] = true
		}
	}
	for f := FaultFamily(0); f < NumFamilies; f++ {
		if r.latches[f].Load() != present[f] {
			panic(errors.AssertionFailedf(
				"latch for %v is %v but canonical event presence is %v",
				f, r.latches[f].Load(), present[f]))
		}
	}
}
