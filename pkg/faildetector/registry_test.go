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
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func clogHangEvent() FailureEvent {
	return NewFailureEvent(ProcessHang, ModuleLog, Fatal, "clog disk hang, sen: 25")
}

func clogFullEvent() FailureEvent {
	return NewFailureEvent(ResourceNotEnough, ModuleLog, Fatal, "disk space insufficient")
}

func dataDiskEvent() FailureEvent {
	return NewFailureEvent(ProcessHang, ModuleStorage, Fatal, "device health: error")
}

func schemaEvent() FailureEvent {
	return NewFailureEvent(SchemaNotRefreshed, ModuleSchema, Serious, "tenant schema not refreshed")
}

func startedRegistry(sink AuditSink) *Registry {
	r := NewRegistry(sink, nil)
	r.start()
	return r
}

func TestRegistryAddRemove(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)

	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))
	err := r.AddFailureEvent(ctx, clogHangEvent())
	require.ErrorIs(t, err, ErrEntryExists)

	// Deduplication is on (Type, Module) identity only: a different level
	// and info string still collides.
	dup := NewFailureEvent(ProcessHang, ModuleLog, Serious, "some other description")
	require.ErrorIs(t, r.AddFailureEvent(ctx, dup), ErrEntryExists)

	require.NoError(t, r.RemoveFailureEvent(ctx, clogHangEvent()))
	err = r.RemoveFailureEvent(ctx, clogHangEvent())
	require.ErrorIs(t, err, ErrEntryNotExist)
}

func TestRegistryNotRunning(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)

	// Never-started and stopped registries fail differently.
	require.ErrorIs(t, r.AddFailureEvent(ctx, clogHangEvent()), ErrNotInit)
	require.ErrorIs(t, r.RemoveFailureEvent(ctx, clogHangEvent()), ErrNotInit)
	_, err := r.GetSpecifiedLevelEvents(Fatal)
	require.ErrorIs(t, err, ErrNotInit)

	r.start()
	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))

	r.markStopped()
	require.ErrorIs(t, r.AddFailureEvent(ctx, clogFullEvent()), ErrNotRunning)
	require.ErrorIs(t, r.RemoveFailureEvent(ctx, clogHangEvent()), ErrNotRunning)
	_, err = r.GetSpecifiedLevelEvents(Fatal)
	require.ErrorIs(t, err, ErrNotRunning)

	// The latch survives the stop until destroy.
	require.True(t, r.QueryLatch(FamilyClogHang))
	r.destroy()
	require.False(t, r.QueryLatch(FamilyClogHang))
}

func TestRegistryGetSpecifiedLevelEvents(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)

	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))
	require.NoError(t, r.AddFailureEvent(ctx, schemaEvent()))
	require.NoError(t, r.AddFailureEvent(ctx, clogFullEvent()))

	fatal, err := r.GetSpecifiedLevelEvents(Fatal)
	require.NoError(t, err)
	require.Equal(t, []FailureEvent{clogHangEvent(), clogFullEvent()}, fatal)

	serious, err := r.GetSpecifiedLevelEvents(Serious)
	require.NoError(t, err)
	require.Equal(t, []FailureEvent{schemaEvent()}, serious)
}

func TestRegistryLatches(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)

	require.False(t, r.IsClogDiskHasFatalError())
	require.False(t, r.IsDataDiskHasFatalError())
	require.False(t, r.IsSchemaNotRefreshed())

	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))
	require.NoError(t, r.AddFailureEvent(ctx, clogFullEvent()))
	require.True(t, r.QueryLatch(FamilyClogHang))
	require.True(t, r.QueryLatch(FamilyClogFull))
	require.True(t, r.IsClogDiskHasFatalError())

	// Either clog fault alone keeps the fatal-error answer true.
	require.NoError(t, r.RemoveFailureEvent(ctx, clogHangEvent()))
	require.False(t, r.QueryLatch(FamilyClogHang))
	require.True(t, r.IsClogDiskHasFatalError())
	require.NoError(t, r.RemoveFailureEvent(ctx, clogFullEvent()))
	require.False(t, r.IsClogDiskHasFatalError())

	require.NoError(t, r.AddFailureEvent(ctx, dataDiskEvent()))
	require.True(t, r.IsDataDiskHasFatalError())
	require.NoError(t, r.AddFailureEvent(ctx, schemaEvent()))
	require.True(t, r.IsSchemaNotRefreshed())
}

func TestRegistryUnlatchedEvent(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)

	// An externally reported fault outside the probed families has no
	// latch; it is still deduplicated and listed.
	external := NewFailureEvent(ResourceNotEnough, ModuleStorage, Serious, "data disk nearly full")
	require.NoError(t, r.AddFailureEvent(ctx, external))
	for f := FaultFamily(0); f < NumFamilies; f++ {
		require.False(t, r.QueryLatch(f), "family %v", f)
	}
	require.ErrorIs(t, r.AddFailureEvent(ctx, external), ErrEntryExists)
	require.NoError(t, r.RemoveFailureEvent(ctx, external))
}

func TestRegistryAuditRows(t *testing.T) {
	ctx := context.Background()
	sink := NewMemoryAuditSink()
	r := startedRegistry(sink)

	event := clogFullEvent()
	require.NoError(t, r.AddFailureEvent(ctx, event))
	require.NoError(t, r.RemoveFailureEvent(ctx, event))

	rows := sink.Rows()
	require.Len(t, rows, 2)

	// The add row carries the event's own info string as its tag; the
	// remove row carries the removal tag.
	require.Equal(t, "FAILURE_DETECTOR", rows[0].EventKind)
	require.Equal(t, event.Info, rows[0].Tag)
	require.Equal(t, ResourceNotEnough, rows[0].Type)
	require.Equal(t, ModuleLog, rows[0].Module)
	require.False(t, rows[0].AutoRecover)

	require.Equal(t, "REMOVE FAILURE", rows[1].Tag)
	require.False(t, rows[1].AutoRecover)
	require.False(t, rows[1].Timestamp.Before(rows[0].Timestamp))
}

type failingAuditSink struct{}

func (failingAuditSink) Record(context.Context, string, FailureEvent, bool) error {
	return errors.New("event history unavailable")
}

func TestRegistryAuditSinkErrorBestEffort(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(failingAuditSink{})

	// A failing sink must not block the mutation itself.
	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))
	require.True(t, r.QueryLatch(FamilyClogHang))
	require.NoError(t, r.RemoveFailureEvent(ctx, clogHangEvent()))
	require.False(t, r.QueryLatch(FamilyClogHang))
}

func TestRegistryNilRecoveryPredicate(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)
	err := r.AddFailureEventWithRecovery(ctx, schemaEvent(), nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRegistryRecoveryPredicate(t *testing.T) {
	ctx := context.Background()
	sink := NewMemoryAuditSink()
	r := startedRegistry(sink)

	calls := 0
	pred := func() bool {
		calls++
		return calls > 3
	}
	require.NoError(t, r.AddFailureEventWithRecovery(ctx, schemaEvent(), pred))
	require.True(t, r.IsSchemaNotRefreshed())

	for i := 0; i < 3; i++ {
		r.detectRecovery(ctx)
		require.True(t, r.IsSchemaNotRefreshed(), "pass %d", i)
	}
	r.detectRecovery(ctx)
	require.False(t, r.IsSchemaNotRefreshed())
	require.Equal(t, 4, calls)
	events, err := r.GetSpecifiedLevelEvents(Serious)
	require.NoError(t, err)
	require.Empty(t, events)

	// Once removed, the predicate is gone.
	r.detectRecovery(ctx)
	require.Equal(t, 4, calls)

	rows := sink.Rows()
	require.Len(t, rows, 2)
	require.True(t, rows[0].AutoRecover)
	require.Equal(t, "DETECT REVOCER", rows[1].Tag)
	require.True(t, rows[1].AutoRecover)
}

func TestRegistryRecoverySkipsManualEvents(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)

	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))
	for i := 0; i < 5; i++ {
		r.detectRecovery(ctx)
	}
	require.True(t, r.QueryLatch(FamilyClogHang))
}

func TestRegistryRecoveryPredicatePanic(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)

	calls := 0
	pred := func() bool {
		calls++
		if calls == 1 {
			panic("schema service torn down")
		}
		return true
	}
	require.NoError(t, r.AddFailureEventWithRecovery(ctx, schemaEvent(), pred))

	// A panicking predicate counts as "not recovered" and must not poison
	// the recovery pass.
	r.detectRecovery(ctx)
	require.True(t, r.IsSchemaNotRefreshed())
	r.detectRecovery(ctx)
	require.False(t, r.IsSchemaNotRefreshed())
}

func TestRegistryRecoveryMultipleEvents(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)

	recovered := map[FailureModule]bool{}
	addWithPred := func(event FailureEvent) {
		module := event.Module
		require.NoError(t, r.AddFailureEventWithRecovery(ctx, event,
			func() bool { return recovered[module] }))
	}
	addWithPred(schemaEvent())
	addWithPred(dataDiskEvent())
	addWithPred(clogFullEvent())

	// Recover the first and last in one pass; removal must not skip over
	// the surviving middle entry.
	recovered[ModuleSchema] = true
	recovered[ModuleLog] = true
	r.detectRecovery(ctx)
	require.False(t, r.IsSchemaNotRefreshed())
	require.False(t, r.QueryLatch(FamilyClogFull))
	require.True(t, r.IsDataDiskHasFatalError())

	recovered[ModuleStorage] = true
	r.detectRecovery(ctx)
	require.False(t, r.IsDataDiskHasFatalError())
}

func TestRegistryRestartClearsEntries(t *testing.T) {
	ctx := context.Background()
	r := startedRegistry(nil)
	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))

	r.markStopped()
	r.destroy()
	r.start()

	events, err := r.GetSpecifiedLevelEvents(Fatal)
	require.NoError(t, err)
	require.Empty(t, events)
	require.NoError(t, r.AddFailureEvent(ctx, clogHangEvent()))
}
