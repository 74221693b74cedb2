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

	"github.com/jscblack/oceanbase-dev/pkg/util/timeutil"
)

// runRecoveryLoop evaluates recovery predicates at the configured recovery
// interval until the stopper quiesces. This loop is the sole mechanism for
// clearing events reported by other subsystems with a predicate attached;
// probe-driven events carry no predicate and are cleared by the detection
// loop instead.
func (c *Coordinator) runRecoveryLoop(ctx context.Context) {
	var timer timeutil.Timer
	defer timer.Stop()
	for {
		timer.Reset(RecoveryInterval.Get())
		select {
		case <-timer.C:
			timer.Read = true
			c.registry.detectRecovery(ctx)
		case <-c.stopper.ShouldQuiesce():
			return
		}
	}
}
