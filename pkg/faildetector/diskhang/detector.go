// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package diskhang implements an adaptive commit-log disk hang detector.
// The detector has no a-priori throughput model for the disk; it learns a
// per-write-size bandwidth/latency baseline online during healthy operation
// and raises a hang only when observed behavior diverges persistently and
// severely from the baselines learned for smaller write sizes, or
// when the log writer has made no progress for longer than the configured
// tolerance.
package diskhang

import (
	"context"
	"math"
	"time"

	"github.com/jscblack/oceanbase-dev/pkg/util"
	"github.com/jscblack/oceanbase-dev/pkg/util/log"
	"github.com/jscblack/oceanbase-dev/pkg/util/syncutil"
	"github.com/jscblack/oceanbase-dev/pkg/util/timeutil"
)

const (
	// detectIntervalUS rate-limits sampling: calls arriving more often than
	// this return the latched prior result without advancing the round.
	detectIntervalUS = int64(time.Second / time.Microsecond)

	// minRecoveryInterval is the number of consecutive clean rounds required
	// before a raised hang may clear; it is also the length of the anomaly
	// ring buffer.
	minRecoveryInterval = 60

	// failureTimeUpperBoundUS bounds how long the hang latch may stay on
	// while only the baseline comparison keeps flagging anomalies, so a
	// mis-learned baseline cannot pin the latch indefinitely. It does not
	// release a latch while a small or long pending I/O is still flagged.
	failureTimeUpperBoundUS = int64(2 * time.Hour / time.Microsecond)

	// invalidTimestamp is the sentinel for "no such time".
	invalidTimestamp = -1

	bwWarnRatio = 0.5
)

// Stats is a point-in-time snapshot of the commit-log writer's I/O counters.
// All times and latencies are in microseconds; sizes are in bytes.
type Stats struct {
	// LastWorkingTime is the wall time the log writer last made progress;
	// negative when it never has.
	LastWorkingTime int64

	// Pending counters describe the I/O currently in flight.
	PendingWriteSize  int64
	PendingWriteCount int64
	PendingWriteRT    int64

	// Accum counters are cumulative since process start.
	AccumWriteSize  int64
	AccumWriteCount int64
	AccumWriteRT    int64
}

// StatsSource supplies I/O statistics from the commit-log service.
type StatsSource interface {
	IOStatistics() (Stats, error)
}

// Config carries the detector's tunables. The getters are consulted on
// every sampled tick so settings changes take effect without a restart.
type Config struct {
	// ToleranceTime is how long a pending I/O may linger before the log
	// writer is considered hung outright.
	ToleranceTime func() time.Duration

	// Sensitivity is the error-ratio percentile in [0, 100]; 0 disables
	// baseline-based detection (long-pending detection still applies, and
	// recovery becomes automatic).
	Sensitivity func() int64

	// OnSample, if set, observes the per-tick average bandwidth (B/s) and
	// latency (µs) derived from the cumulative counters.
	OnSample func(avgBW, avgRT float64)
}

// A Detector decides, once per sampling interval, whether the commit-log
// disk is hung. It is safe for concurrent use, though in practice it is
// driven from a single detection loop.
type Detector struct {
	source StatsSource
	cfg    Config

	logEvery util.EveryN

	mu struct {
		syncutil.Mutex
		lastDetectTime  int64
		lastFailureTime int64
		round           int64
		prevAccumSize   int64
		prevAccumCount  int64
		prevAccumRT     int64
		learnedBW       [Slots]float64
		learnedRT       [Slots]float64
		errorFlags      [minRecoveryInterval]bool
	}
}

// New returns a Detector reading from source.
func New(source StatsSource, cfg Config) *Detector {
	d := &Detector{
		source:   source,
		cfg:      cfg,
		logEvery: util.Every(30 * time.Second),
	}
	d.resetLocked()
	return d
}

func (d *Detector) resetLocked() {
	d.mu.lastDetectTime = invalidTimestamp
	d.mu.lastFailureTime = invalidTimestamp
	d.mu.round = 0
	d.mu.prevAccumSize = 0
	d.mu.prevAccumCount = 0
	d.mu.prevAccumRT = 0
	for i := range d.mu.learnedBW {
		d.mu.learnedBW[i] = -1
		d.mu.learnedRT[i] = -1
	}
	for i := range d.mu.errorFlags {
		d.mu.errorFlags[i] = false
	}
}

// Reset discards all learned baselines, the anomaly history, and the hang
// latch, returning the detector to its initial state. Used when the owning
// tenant is torn down and re-provisioned without a process restart.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// IsHang reports whether the commit-log disk is currently considered hung,
// along with the sensitivity in effect (for inclusion in diagnostics).
//
// Calls arriving within the sampling interval of the previous one return
// the latched prior result. On a failure to read statistics the prior
// result is likewise returned unchanged and the round does not advance.
func (d *Detector) IsHang(ctx context.Context) (bool, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hasFailure := d.mu.lastFailureTime != invalidTimestamp
	now := timeutil.Now().UnixMicro()
	toleranceTime := d.cfg.ToleranceTime().Microseconds()
	sensitivity := d.cfg.Sensitivity()

	if d.mu.lastDetectTime != invalidTimestamp && now-d.mu.lastDetectTime < detectIntervalUS {
		return hasFailure, sensitivity
	}
	stats, err := d.source.IOStatistics()
	if err != nil {
		log.Warningf(ctx, "reading log io statistics failed: %v", err)
		return hasFailure, sensitivity
	}
	d.mu.lastDetectTime = now

	bwErrorRatio := math.Min(0.5, 0.01*float64(sensitivity))
	var continuousErrorGap int64
	if hasFailure {
		continuousErrorGap = minRecoveryInterval
	} else {
		continuousErrorGap = toleranceTime / detectIntervalUS
	}

	thisWriteSize := stats.AccumWriteSize - d.mu.prevAccumSize
	thisWriteCount := stats.AccumWriteCount - d.mu.prevAccumCount
	thisWriteRT := stats.AccumWriteRT - d.mu.prevAccumRT
	d.mu.prevAccumSize = stats.AccumWriteSize
	d.mu.prevAccumCount = stats.AccumWriteCount
	d.mu.prevAccumRT = stats.AccumWriteRT

	var thisAvgBW, thisAvgSize, thisAvgRT float64
	if thisWriteRT > 0 {
		thisAvgBW = float64(thisWriteSize) * 1e6 / float64(thisWriteRT)
	}
	if thisWriteCount > 0 {
		thisAvgSize = float64(thisWriteSize) / float64(thisWriteCount)
		thisAvgRT = float64(thisWriteRT) / float64(thisWriteCount)
	}
	var pendingAvgBW, pendingAvgSize, pendingAvgRT float64
	if stats.PendingWriteRT > 0 {
		pendingAvgBW = float64(stats.PendingWriteSize) * 1e6 / float64(stats.PendingWriteRT)
	}
	if stats.PendingWriteCount > 0 {
		pendingAvgSize = float64(stats.PendingWriteSize) / float64(stats.PendingWriteCount)
		pendingAvgRT = float64(stats.PendingWriteRT) / float64(stats.PendingWriteCount)
	}
	if d.cfg.OnSample != nil {
		d.cfg.OnSample(thisAvgBW, thisAvgRT)
	}

	// A bandwidth collapse is recognized against baselines learned for
	// strictly smaller write sizes: larger writes must not be slower than
	// smaller ones at equal or lower per-op latency.
	perfDecreaseWarn := false
	perfDecreaseError := false
	for i := SizeToSlot(thisAvgSize) - 1; thisWriteCount > 0 && i >= 0; i-- {
		if !perfDecreaseWarn &&
			d.mu.learnedRT[i] > 0 && d.mu.learnedRT[i] < thisAvgRT &&
			d.mu.learnedBW[i] > 0 && d.mu.learnedBW[i]*bwWarnRatio > thisAvgBW {
			perfDecreaseWarn = true
		}
		if !perfDecreaseError &&
			d.mu.learnedRT[i] > 0 && d.mu.learnedRT[i] < thisAvgRT &&
			d.mu.learnedBW[i] > 0 && d.mu.learnedBW[i]*bwErrorRatio > thisAvgBW {
			perfDecreaseError = true
		}
		if perfDecreaseError {
			break
		}
	}

	hasLongPendingIO := stats.LastWorkingTime >= 0 && now-stats.LastWorkingTime > toleranceTime

	checkSmallPendingIO := pendingAvgRT > float64(detectIntervalUS) &&
		!hasLongPendingIO && !perfDecreaseError
	hasSmallPendingIO := false
	for i := SizeToSlot(pendingAvgSize) - 1; checkSmallPendingIO && i >= 0; i-- {
		if d.mu.learnedBW[i] > 0 && d.mu.learnedBW[i]*bwErrorRatio > thisAvgBW+pendingAvgBW {
			hasSmallPendingIO = true
			break
		}
	}

	d.mu.errorFlags[d.mu.round%minRecoveryInterval] =
		perfDecreaseError || hasSmallPendingIO || hasLongPendingIO
	hasContinuousError := d.hasContinuousErrorLocked(hasFailure, continuousErrorGap)

	// Learn only from ticks with every anomaly signal clear, so a degrading
	// disk cannot drag its own baseline down.
	if !perfDecreaseWarn && !perfDecreaseError &&
		!hasSmallPendingIO && !hasLongPendingIO && !hasFailure {
		slot := SizeToSlot(thisAvgSize)
		if d.mu.learnedBW[slot] <= 0 || d.mu.learnedRT[slot] <= 0 {
			d.mu.learnedBW[slot] = thisAvgBW
			d.mu.learnedRT[slot] = thisAvgRT
		} else {
			d.mu.learnedBW[slot] = (thisAvgBW + 9*d.mu.learnedBW[slot]) / 10
			d.mu.learnedRT[slot] = (thisAvgRT + 9*d.mu.learnedRT[slot]) / 10
		}
	}

	var isHang bool
	if !hasFailure {
		if ((hasSmallPendingIO || perfDecreaseError) && hasContinuousError) || hasLongPendingIO {
			isHang = true
			d.mu.lastFailureTime = now
		}
	} else {
		if !hasSmallPendingIO && !hasLongPendingIO &&
			(sensitivity == 0 ||
				(!perfDecreaseError && !hasContinuousError) ||
				now-d.mu.lastFailureTime > failureTimeUpperBoundUS) {
			isHang = false
		} else {
			isHang = true
		}
	}

	if isHang != hasFailure || perfDecreaseWarn || perfDecreaseError ||
		hasSmallPendingIO || hasLongPendingIO || d.logEvery.ShouldProcess(timeutil.Now()) {
		log.Infof(ctx, "clog disk hang check finished: hang=%v hadFailure=%v "+
			"perfWarn=%v perfError=%v continuousError=%v smallPendingIO=%v longPendingIO=%v "+
			"lastWorkingTime=%d sensitivity=%d toleranceTime=%dus round=%d "+
			"thisAvgBW=%.0f thisAvgSize=%.0f thisAvgRT=%.0f pendingAvgBW=%.0f",
			isHang, hasFailure,
			perfDecreaseWarn, perfDecreaseError, hasContinuousError, hasSmallPendingIO, hasLongPendingIO,
			stats.LastWorkingTime, sensitivity, toleranceTime, d.mu.round,
			thisAvgBW, thisAvgSize, thisAvgRT, pendingAvgBW)
	}

	d.mu.round++
	if !isHang {
		d.mu.lastFailureTime = invalidTimestamp
	}
	return isHang, sensitivity
}

// hasContinuousErrorLocked scans the most recent gap rounds of the anomaly
// ring. While failing, any anomaly at all keeps the latch on; while healthy,
// raising requires a true majority of anomalous rounds in the window.
func (d *Detector) hasContinuousErrorLocked(hasFailure bool, gap int64) bool {
	var errorCount int64
	for i := d.mu.round; i >= 0 && i > d.mu.round-gap; i-- {
		if d.mu.errorFlags[i%minRecoveryInterval] {
			errorCount++
		}
	}
	if hasFailure {
		return errorCount != 0
	}
	return errorCount > gap/2
}
