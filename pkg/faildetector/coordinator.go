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

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/jscblack/oceanbase-dev/pkg/faildetector/diskhang"
	"github.com/jscblack/oceanbase-dev/pkg/util/log"
	"github.com/jscblack/oceanbase-dev/pkg/util/stop"
	"github.com/prometheus/client_golang/prometheus"
)

// Sources bundles the read-only views onto external subsystems the
// detector probes. Replicas may be nil; it is only consulted in
// arbitration builds.
type Sources struct {
	LogIO        diskhang.StatsSource
	DiskSpace    DiskSpaceSource
	DeviceHealth DeviceHealthSource
	Schema       SchemaSource
	Replicas     ReplicaSource
}

// familyProbe binds a probe to its fault family and the canonical identity
// of the event it raises.
type familyProbe struct {
	family FaultFamily
	typ    FailureType
	module FailureModule
	level  FailureLevel
	probe  Probe
}

// A Coordinator owns one tenant's failure detector: the event registry,
// the fault probes, and the two periodic loops driving them. Construct one
// per tenant; there are no process-wide singletons here.
type Coordinator struct {
	tenantID uint64
	registry *Registry
	detector *diskhang.Detector
	probes   []familyProbe
	metrics  *Metrics
	stopper  *stop.Stopper
}

// NewCoordinator wires a Coordinator for the given tenant. Audit rows go to
// sink; metrics register with reg (which may be nil).
func NewCoordinator(
	tenantID uint64, sources Sources, sink AuditSink, reg prometheus.Registerer,
) (*Coordinator, error) {
	if sources.LogIO == nil || sources.DiskSpace == nil ||
		sources.DeviceHealth == nil || sources.Schema == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "constructing coordinator with nil source")
	}
	metrics := NewMetrics(reg, tenantID)
	detector := diskhang.New(sources.LogIO, diskhang.Config{
		ToleranceTime: LogStorageWarningToleranceTime.Get,
		Sensitivity:   LogStorageWarningTriggerPercentage.Get,
		OnSample:      metrics.observeSample,
	})
	c := &Coordinator{
		tenantID: tenantID,
		registry: NewRegistry(sink, metrics),
		detector: detector,
		metrics:  metrics,
		stopper:  stop.NewStopper(),
	}
	c.probes = []familyProbe{
		{FamilyClogHang, ProcessHang, ModuleLog, Fatal, ClogHangProbe{Detector: detector}},
		{FamilyDataDiskHang, ProcessHang, ModuleStorage, Fatal, DataDiskProbe{Source: sources.DeviceHealth}},
		{FamilyClogFull, ResourceNotEnough, ModuleLog, Fatal, ClogFullProbe{Source: sources.DiskSpace}},
		{FamilySchemaNotRefreshed, SchemaNotRefreshed, ModuleSchema, Serious, SchemaProbe{Source: sources.Schema, TenantID: tenantID}},
	}
	if p := newElectionSilenceProbe(sources.Replicas); p != nil {
		c.probes = append(c.probes, familyProbe{FamilyElectionSilent, EnterElectionSilent, ModuleLog, Fatal, p})
	}
	return c, nil
}

// Registry returns the coordinator's event registry, through which other
// subsystems report and query failure events.
func (c *Coordinator) Registry() *Registry { return c.registry }

// AnnotateCtx tags ctx with the coordinator's tenant for log output.
func (c *Coordinator) AnnotateCtx(ctx context.Context) context.Context {
	return logtags.AddTag(ctx, "tenant", fmt.Sprint(c.tenantID))
}

// Start marks the registry running and installs the detection and recovery
// loops.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx = c.AnnotateCtx(ctx)
	c.registry.start()
	if err := c.stopper.RunAsyncTask(ctx, "failure-detection-loop", c.runDetectionLoop); err != nil {
		return err
	}
	if err := c.stopper.RunAsyncTask(ctx, "failure-recovery-loop", c.runRecoveryLoop); err != nil {
		return err
	}
	log.Infof(ctx, "failure detector started")
	return nil
}

// Stop requests both loops to stop and marks the registry stopped, so that
// further mutating operations fail with ErrNotRunning. It does not wait for
// in-flight loop bodies; see Wait.
func (c *Coordinator) Stop(ctx context.Context) {
	c.registry.markStopped()
	c.stopper.Quiesce(ctx)
	log.Infof(c.AnnotateCtx(ctx), "failure detector stopping")
}

// Wait blocks until both loops have returned from any in-flight invocation.
func (c *Coordinator) Wait() {
	<-c.stopper.IsStopped()
}

// Destroy resets the per-family latches and discards detector state. It
// must only be called after Wait.
func (c *Coordinator) Destroy() {
	c.registry.destroy()
	c.detector.Reset()
}
