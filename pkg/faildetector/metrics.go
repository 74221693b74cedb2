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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the detector's state as Prometheus time series: the
// per-family latches as a 0/1 gauge, counters over audit rows and swallowed
// probe errors, and the disk-hang detector's per-tick bandwidth/latency
// samples as histograms.
type Metrics struct {
	ActiveFaults       *prometheus.GaugeVec
	AuditRows          prometheus.Counter
	ProbeErrors        prometheus.Counter
	ClogWriteBandwidth prometheus.Histogram
	ClogWriteLatency   prometheus.Histogram
}

// NewMetrics constructs the metric set for one tenant's detector and
// registers it with reg; a nil reg leaves the metrics unregistered (used by
// tests).
func NewMetrics(reg prometheus.Registerer, tenantID uint64) *Metrics {
	constLabels := prometheus.Labels{"tenant": strconv.FormatUint(tenantID, 10)}
	m := &Metrics{
		ActiveFaults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "failure_detector",
			Name:        "active_faults",
			Help:        "Whether the fault family's failure event is currently active (0 or 1).",
			ConstLabels: constLabels,
		}, []string{"family"}),
		AuditRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "failure_detector",
			Name:        "audit_rows_total",
			Help:        "Number of rows written to the server event history.",
			ConstLabels: constLabels,
		}),
		ProbeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "failure_detector",
			Name:        "probe_errors_total",
			Help:        "Number of probe failures swallowed by the detection loop.",
			ConstLabels: constLabels,
		}),
		ClogWriteBandwidth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "failure_detector",
			Name:        "clog_write_bandwidth_bytes_per_second",
			Help:        "Per-interval average commit-log write bandwidth observed by the disk-hang detector.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1<<10, 4, 12),
		}),
		ClogWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "failure_detector",
			Name:        "clog_write_latency_microseconds",
			Help:        "Per-interval average commit-log write latency observed by the disk-hang detector.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(10, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ActiveFaults, m.AuditRows, m.ProbeErrors,
			m.ClogWriteBandwidth, m.ClogWriteLatency,
		)
	}
	return m
}

func (m *Metrics) setLatch(family FaultFamily, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	m.ActiveFaults.WithLabelValues(family.String()).Set(v)
}

func (m *Metrics) incAuditRows() {
	if m != nil {
		m.AuditRows.Inc()
	}
}

func (m *Metrics) incProbeErrors() {
	if m != nil {
		m.ProbeErrors.Inc()
	}
}

func (m *Metrics) observeSample(avgBW, avgRT float64) {
	if m == nil {
		return
	}
	m.ClogWriteBandwidth.Observe(avgBW)
	m.ClogWriteLatency.Observe(avgRT)
}
