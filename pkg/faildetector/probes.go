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

	"github.com/jscblack/oceanbase-dev/pkg/faildetector/diskhang"
)

// DeviceHealthStatus is the I/O subsystem's view of a device. Anything
// other than DeviceHealthNormal means the device is degraded.
type DeviceHealthStatus int

// Recognized device health states.
const (
	DeviceHealthNormal DeviceHealthStatus = iota
	DeviceHealthWarning
	DeviceHealthError
)

func (s DeviceHealthStatus) String() string {
	switch s {
	case DeviceHealthNormal:
		return "normal"
	case DeviceHealthWarning:
		return "warning"
	case DeviceHealthError:
		return "error"
	default:
		return fmt.Sprintf("DeviceHealthStatus(%d)", int(s))
	}
}

// DeviceHealthSource reports the data disk's health as seen by the I/O
// manager, along with the wall time (µs) the current degradation began
// (negative when healthy).
type DeviceHealthSource interface {
	DeviceHealthStatus() (DeviceHealthStatus, int64, error)
}

// DiskSpaceSource reports whether the commit-log disk still has enough
// space, as seen by the log service.
type DiskSpaceSource interface {
	CheckDiskSpaceEnough() (bool, error)
}

// SchemaSource reports whether a tenant's schema has been refreshed to the
// current version, as seen by the schema service.
type SchemaSource interface {
	IsTenantNotRefreshed(tenantID uint64) (bool, error)
}

// ReplicaStatus is the per-replica state visited by ForEachReplica.
type ReplicaStatus struct {
	ID             int64
	ElectionSilent bool
}

// ReplicaSource visits every local log replica.
type ReplicaSource interface {
	ForEachReplica(func(ReplicaStatus)) error
}

// A Probe answers "is this fault currently present?" for one fault family.
// Probes are pure with respect to the Registry and may block on their
// underlying subsystem; an error means "unknown" and leaves state
// untouched.
type Probe interface {
	Name() string
	Check(ctx context.Context) (faulty bool, info string, err error)
}

// ClogHangProbe delegates to the adaptive disk-hang detector.
type ClogHangProbe struct {
	Detector *diskhang.Detector
}

// Name implements Probe.
func (p ClogHangProbe) Name() string { return "clog disk hang" }

// Check implements Probe.
func (p ClogHangProbe) Check(ctx context.Context) (bool, string, error) {
	isHang, sensitivity := p.Detector.IsHang(ctx)
	return isHang, fmt.Sprintf("clog disk hang, sen: %d", sensitivity), nil
}

// DataDiskProbe fails when the I/O manager reports the data disk's device
// health as anything other than normal.
type DataDiskProbe struct {
	Source DeviceHealthSource
}

// Name implements Probe.
func (p DataDiskProbe) Name() string { return "data disk" }

// Check implements Probe.
func (p DataDiskProbe) Check(ctx context.Context) (bool, string, error) {
	status, _, err := p.Source.DeviceHealthStatus()
	if err != nil {
		return false, "", err
	}
	return status != DeviceHealthNormal, fmt.Sprintf("device health: %v", status), nil
}

// ClogFullProbe fails when the log service reports insufficient commit-log
// disk space.
type ClogFullProbe struct {
	Source DiskSpaceSource
}

// Name implements Probe.
func (p ClogFullProbe) Name() string { return "clog disk full" }

// Check implements Probe.
func (p ClogFullProbe) Check(ctx context.Context) (bool, string, error) {
	enough, err := p.Source.CheckDiskSpaceEnough()
	if err != nil {
		return false, "", err
	}
	return !enough, "disk space insufficient", nil
}

// SchemaProbe fails when the schema service reports the tenant's schema as
// not yet refreshed.
type SchemaProbe struct {
	Source   SchemaSource
	TenantID uint64
}

// Name implements Probe.
func (p SchemaProbe) Name() string { return "schema refresh" }

// Check implements Probe.
func (p SchemaProbe) Check(ctx context.Context) (bool, string, error) {
	notRefreshed, err := p.Source.IsTenantNotRefreshed(p.TenantID)
	if err != nil {
		return false, "", err
	}
	return notRefreshed, "tenant schema not refreshed", nil
}
