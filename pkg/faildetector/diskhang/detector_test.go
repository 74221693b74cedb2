// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package diskhang

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jscblack/oceanbase-dev/pkg/util/timeutil"
	"github.com/stretchr/testify/require"
)

type fakeStatsSource struct {
	stats Stats
	err   error
}

func (s *fakeStatsSource) IOStatistics() (Stats, error) {
	return s.stats, s.err
}

// detectorHarness drives a Detector with synthetic I/O counters on a
// manual clock, one sampling interval per tick.
type detectorHarness struct {
	mt          *timeutil.ManualTime
	src         *fakeStatsSource
	d           *Detector
	tolerance   time.Duration
	sensitivity int64
}

func newDetectorHarness(t *testing.T) *detectorHarness {
	h := &detectorHarness{
		mt:          timeutil.NewManualTime(time.Unix(1700000000, 0)),
		src:         &fakeStatsSource{},
		tolerance:   5 * time.Second,
		sensitivity: 20,
	}
	t.Cleanup(timeutil.TestingSetNow(h.mt.Now))
	h.src.stats.LastWorkingTime = h.mt.Now().UnixMicro()
	h.d = New(h.src, Config{
		ToleranceTime: func() time.Duration { return h.tolerance },
		Sensitivity:   func() int64 { return h.sensitivity },
	})
	return h
}

// tick advances one sampling interval, accumulates the given write counters
// (rt in microseconds), marks the log writer as having just made progress,
// and samples the detector.
func (h *detectorHarness) tick(size, count, rt int64) bool {
	h.mt.Advance(time.Second)
	h.src.stats.AccumWriteSize += size
	h.src.stats.AccumWriteCount += count
	h.src.stats.AccumWriteRT += rt
	h.src.stats.LastWorkingTime = h.mt.Now().UnixMicro()
	isHang, _ := h.d.IsHang(context.Background())
	return isHang
}

// tickHealthy is the baseline workload: 100 writes of 1000 bytes finishing
// in one second (avg bandwidth 1e5 B/s, avg latency 1e4 µs, bucket slot 0).
func (h *detectorHarness) tickHealthy() bool {
	return h.tick(100000, 100, 1000000)
}

// tickDegraded is a collapsed workload: a single 10000-byte write taking
// five seconds (avg bandwidth 2000 B/s, bucket slot 60), far below the
// healthy baseline at higher latency.
func (h *detectorHarness) tickDegraded() bool {
	return h.tick(10000, 1, 5000000)
}

func TestDetectorColdStartHealthy(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy(), "tick %d", i)
	}
	slot := SizeToSlot(1000)
	require.Equal(t, int64(0), slot)
	require.InEpsilon(t, 1e5, h.d.mu.learnedBW[slot], 0.001)
	require.InEpsilon(t, 1e4, h.d.mu.learnedRT[slot], 0.001)
	require.Equal(t, int64(50), h.d.mu.round)
}

func TestDetectorBandwidthCollapse(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy())
	}
	// With a 5s tolerance and 1s sampling, the anomaly window is 5 rounds
	// and raising requires a strict majority of 3.
	require.False(t, h.tickDegraded())
	require.False(t, h.tickDegraded())
	require.True(t, h.tickDegraded())
	for i := 0; i < 10; i++ {
		require.True(t, h.tickDegraded(), "tick %d", i)
	}
}

func TestDetectorLongPendingIO(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 5; i++ {
		require.False(t, h.tickHealthy())
	}
	// The log writer stops making progress past the tolerance: the hang
	// raises immediately, with no anomaly history required.
	h.mt.Advance(time.Second)
	h.src.stats.LastWorkingTime = h.mt.Now().UnixMicro() - h.tolerance.Microseconds() - 1
	isHang, _ := h.d.IsHang(context.Background())
	require.True(t, isHang)
}

func TestDetectorLongPendingIOOnFirstTick(t *testing.T) {
	h := newDetectorHarness(t)
	h.mt.Advance(time.Second)
	h.src.stats.LastWorkingTime = h.mt.Now().UnixMicro() - h.tolerance.Microseconds() - 1
	isHang, _ := h.d.IsHang(context.Background())
	require.True(t, isHang)
}

func TestDetectorNoRaiseWithoutHistory(t *testing.T) {
	h := newDetectorHarness(t)
	// A fresh detector has no learned baseline, so even a degraded
	// workload cannot raise on the first ticks.
	require.False(t, h.tickDegraded())
	require.False(t, h.tickDegraded())
}

func TestDetectorRecovery(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy())
	}
	for i := 0; i < 10; i++ {
		h.tickDegraded()
	}
	isHang, _ := h.d.IsHang(context.Background())
	require.True(t, isHang)

	// Healthy input again: the hang must persist until a full recovery
	// window of clean rounds has elapsed, then clear on the exact tick at
	// which the last anomalous round leaves the window.
	for i := 0; i < minRecoveryInterval-1; i++ {
		require.True(t, h.tickHealthy(), "tick %d", i)
	}
	require.False(t, h.tickHealthy())
	require.False(t, h.tickHealthy())
}

func TestDetectorZeroSensitivityRecoversImmediately(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy())
	}
	for i := 0; i < 5; i++ {
		h.tickDegraded()
	}
	isHang, _ := h.d.IsHang(context.Background())
	require.True(t, isHang)

	h.sensitivity = 0
	require.False(t, h.tickHealthy())
}

func TestDetectorFailureTimeUpperBound(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy())
	}
	for i := 0; i < 5; i++ {
		h.tickDegraded()
	}
	isHang, _ := h.d.IsHang(context.Background())
	require.True(t, isHang)

	// Even with the anomaly persisting, the latch releases once it has
	// been on for longer than the upper bound.
	h.d.mu.lastFailureTime -= failureTimeUpperBoundUS + int64(time.Hour/time.Microsecond)
	require.False(t, h.tickDegraded())
}

func TestDetectorRateLimit(t *testing.T) {
	h := newDetectorHarness(t)
	require.False(t, h.tickHealthy())
	round := h.d.mu.round
	lastDetect := h.d.mu.lastDetectTime

	// A second call within the sampling interval returns the latched
	// result without sampling.
	h.mt.Advance(100 * time.Millisecond)
	isHang, _ := h.d.IsHang(context.Background())
	require.False(t, isHang)
	require.Equal(t, round, h.d.mu.round)
	require.Equal(t, lastDetect, h.d.mu.lastDetectTime)
}

func TestDetectorStatsErrorKeepsState(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy())
	}
	for i := 0; i < 5; i++ {
		h.tickDegraded()
	}
	isHang, _ := h.d.IsHang(context.Background())
	require.True(t, isHang)
	round := h.d.mu.round

	h.src.err = errors.New("io statistics unavailable")
	h.mt.Advance(time.Second)
	isHang, _ = h.d.IsHang(context.Background())
	require.True(t, isHang, "prior latch must be returned on a stats error")
	require.Equal(t, round, h.d.mu.round, "a failed sample must not advance the round")
}

func TestDetectorLearningGuard(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy())
	}
	learnedBW := h.d.mu.learnedBW
	for i := 0; i < 10; i++ {
		h.tickDegraded()
	}
	// Degraded rounds and rounds spent failing must not touch the table.
	require.Equal(t, learnedBW, h.d.mu.learnedBW)
}

func TestDetectorSmallPendingIO(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 50; i++ {
		require.False(t, h.tickHealthy())
	}
	// No completed writes this interval, but a pending 10000-byte write has
	// been in flight for five seconds: throughput collapsed to zero against
	// a learned baseline for smaller writes.
	for i := 0; i < 5; i++ {
		h.mt.Advance(time.Second)
		h.src.stats.PendingWriteSize = 10000
		h.src.stats.PendingWriteCount = 1
		h.src.stats.PendingWriteRT = 5000000
		h.src.stats.LastWorkingTime = h.mt.Now().UnixMicro()
		if isHang, _ := h.d.IsHang(context.Background()); isHang {
			return
		}
	}
	t.Fatal("small pending io did not raise within the anomaly window")
}

func TestDetectorReset(t *testing.T) {
	h := newDetectorHarness(t)
	for i := 0; i < 10; i++ {
		require.False(t, h.tickHealthy())
	}
	for i := 0; i < 5; i++ {
		h.tickDegraded()
	}
	h.d.Reset()
	require.Equal(t, int64(0), h.d.mu.round)
	require.Equal(t, int64(invalidTimestamp), h.d.mu.lastFailureTime)
	for i := range h.d.mu.learnedBW {
		require.Equal(t, -1.0, h.d.mu.learnedBW[i])
	}
	for _, flag := range h.d.mu.errorFlags {
		require.False(t, flag)
	}
}
