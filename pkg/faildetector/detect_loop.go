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

	"github.com/cockroachdb/errors"
	"github.com/jscblack/oceanbase-dev/pkg/util/log"
	"github.com/jscblack/oceanbase-dev/pkg/util/timeutil"
)

// runDetectionLoop drives the fault probes at the configured detection
// interval until the stopper quiesces. Resetting the timer after each pass
// coalesces any ticks missed while a pass blocked on a probe.
func (c *Coordinator) runDetectionLoop(ctx context.Context) {
	var timer timeutil.Timer
	defer timer.Stop()
	for {
		timer.Reset(DetectionInterval.Get())
		select {
		case <-timer.C:
			timer.Read = true
			c.detectFailure(ctx)
		case <-c.stopper.ShouldQuiesce():
			return
		}
	}
}

// detectFailure runs one detection pass over every fault family, in fixed
// order. The order is observable in audit output when several faults fire
// in the same pass.
func (c *Coordinator) detectFailure(ctx context.Context) {
	for i := range c.probes {
		c.detectFamily(ctx, c.probes[i])
	}
}

// detectFamily probes one fault family and edge-triggers the Registry
// against the family latch: a probe result matching the latch is a no-op.
// Probe errors are swallowed so a transient outage in a dependency cannot
// itself flip failure state; the next pass retries.
func (c *Coordinator) detectFamily(ctx context.Context, fp familyProbe) {
	faulty, info, err := fp.probe.Check(ctx)
	if err != nil {
		c.metrics.incProbeErrors()
		log.Warningf(ctx, "%s probe failed: %v", fp.probe.Name(), err)
		return
	}
	hasFailure := c.registry.QueryLatch(fp.family)
	if faulty == hasFailure {
		return
	}
	event := NewFailureEvent(fp.typ, fp.module, fp.level, info)
	if faulty {
		if err := c.registry.AddFailureEvent(ctx, event); err != nil {
			if !errors.Is(err, ErrEntryExists) {
				log.Errorf(ctx, "adding %s failure event failed: %v", fp.probe.Name(), err)
			}
			return
		}
		log.Ops.Errorf(ctx, "%s fault detected, added failure event: %v", fp.probe.Name(), event)
	} else {
		if err := c.registry.RemoveFailureEvent(ctx, event); err != nil {
			if !errors.Is(err, ErrEntryNotExist) {
				log.Errorf(ctx, "removing %s failure event failed: %v", fp.probe.Name(), err)
			}
			return
		}
		log.Ops.Infof(ctx, "%s fault recovered, removed failure event: %v", fp.probe.Name(), event)
	}
}
