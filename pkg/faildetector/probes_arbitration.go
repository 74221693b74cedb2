// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

//go:build arbitration

package faildetector

import "context"

// ElectionSilenceProbe fails when any local log replica reports itself in
// election-silent state. Only built with the arbitration tag; without it,
// the family is never probed.
type ElectionSilenceProbe struct {
	Source ReplicaSource
}

// Name implements Probe.
func (p ElectionSilenceProbe) Name() string { return "election silence" }

// Check implements Probe.
func (p ElectionSilenceProbe) Check(ctx context.Context) (bool, string, error) {
	silent := false
	if err := p.Source.ForEachReplica(func(st ReplicaStatus) {
		if st.ElectionSilent {
			silent = true
		}
	}); err != nil {
		return false, "", err
	}
	return silent, "replica in election silent state", nil
}

func newElectionSilenceProbe(source ReplicaSource) Probe {
	if source == nil {
		return nil
	}
	return ElectionSilenceProbe{Source: source}
}
