// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package faildetector implements a tenant-scoped failure detector: a
// small concurrent registry of currently-active fault events, kept in
// sync with reality by a 100ms detection loop and a 1s recovery loop.
// Other subsystems consult the registry's latches to decide whether to
// shed leadership, block transfers, or refuse migrations; this package
// never takes such action itself.
package faildetector

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// FailureType identifies the kind of fault a FailureEvent describes.
type FailureType int

// The set of recognized failure types.
const (
	ProcessHang FailureType = iota
	ResourceNotEnough
	SchemaNotRefreshed
	EnterElectionSilent
)

func (t FailureType) String() string {
	switch t {
	case ProcessHang:
		return "PROCESS_HANG"
	case ResourceNotEnough:
		return "RESOURCE_NOT_ENOUGH"
	case SchemaNotRefreshed:
		return "SCHEMA_NOT_REFRESHED"
	case EnterElectionSilent:
		return "ENTER_ELECTION_SILENT"
	default:
		return fmt.Sprintf("FailureType(%d)", int(t))
	}
}

// FailureModule identifies which subsystem a FailureEvent pertains to.
type FailureModule int

// The set of recognized failure modules.
const (
	ModuleLog FailureModule = iota
	ModuleStorage
	ModuleSchema
)

func (m FailureModule) String() string {
	switch m {
	case ModuleLog:
		return "LOG"
	case ModuleStorage:
		return "STORAGE"
	case ModuleSchema:
		return "SCHEMA"
	default:
		return fmt.Sprintf("FailureModule(%d)", int(m))
	}
}

// FailureLevel is the severity of a FailureEvent.
type FailureLevel int

// The set of recognized severity levels, in increasing order of urgency.
const (
	Serious FailureLevel = iota
	Fatal
)

func (l FailureLevel) String() string {
	switch l {
	case Serious:
		return "SERIOUS"
	case Fatal:
		return "FATAL"
	default:
		return fmt.Sprintf("FailureLevel(%d)", int(l))
	}
}

// maxInfoLen bounds the length of a FailureEvent's diagnostic string.
const maxInfoLen = 256

// FailureEvent is the immutable identity of a fault. Two events are equal
// iff their Type and Module match; Level and Info are descriptive only and
// do not participate in Registry deduplication.
type FailureEvent struct {
	Type   FailureType
	Module FailureModule
	Level  FailureLevel
	Info   string
}

// NewFailureEvent constructs a FailureEvent, truncating Info to maxInfoLen.
func NewFailureEvent(typ FailureType, module FailureModule, level FailureLevel, info string) FailureEvent {
	if len(info) > maxInfoLen {
		info = info[:maxInfoLen]
	}
	return FailureEvent{Type: typ, Module: module, Level: level, Info: info}
}

// Equal reports whether two events share the same (Type, Module) identity.
func (e FailureEvent) Equal(other FailureEvent) bool {
	return e.Type == other.Type && e.Module == other.Module
}

func (e FailureEvent) String() string {
	return fmt.Sprintf("%s/%s[%s]: %s", e.Module, e.Type, e.Level, e.Info)
}

// RecoveryPredicate reports whether the condition behind a FailureEvent has
// cleared. It is invoked with the Registry's mutex held; implementations
// must not call back into the Registry. A nil RecoveryPredicate means the
// associated event is never auto-recovered by the recovery loop.
type RecoveryPredicate func() bool

// RegistryEntry pairs a FailureEvent with its optional recovery predicate.
// It is owned solely by the Registry.
type RegistryEntry struct {
	Event     FailureEvent
	Predicate RecoveryPredicate
}

// Sentinel errors forming the public error taxonomy. Callers compare
// against these with errors.Is rather than matching on string content.
var (
	// ErrNotInit is returned by operations on a Registry that has never
	// been started. Such errors also match ErrNotRunning.
	ErrNotInit = errors.New("faildetector: not initialized")
	// ErrNotRunning is returned by mutating operations before Start
	// completes or after Stop has been requested.
	ErrNotRunning = errors.New("faildetector: registry not running")
	// ErrInvalidArgument is returned for malformed inputs.
	ErrInvalidArgument = errors.New("faildetector: invalid argument")
	// ErrEntryExists is returned by Add when an entry with the same
	// (Type, Module) is already present.
	ErrEntryExists = errors.New("faildetector: entry already exists")
	// ErrEntryNotExist is returned by Remove when no matching entry is
	// present.
	ErrEntryNotExist = errors.New("faildetector: entry does not exist")
	// ErrInternal marks unexpected failures with no more specific cause.
	ErrInternal = errors.New("faildetector: internal error")
)
