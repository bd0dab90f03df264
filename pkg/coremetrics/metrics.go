// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package coremetrics exposes the prometheus collectors of the
// checkpoint orchestrator (SPEC_FULL.md's ambient metrics section).
// Each run updates step duration, bytes copied and snapshot size;
// LiveShadows is registered but nothing in this module sets it.
package coremetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// StepDuration buckets the wall time of checkpoint steps, labelled
	// by step name. The orchestrator observes the "serialize" and
	// "compress" steps only.
	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkpointcore",
		Subsystem: "checkpoint",
		Name:      "step_duration_seconds",
		Help:      "Duration of a single checkpoint orchestrator step.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})

	// BytesCopied counts dataspace content bytes copied into the
	// stored-info graph, labelled by whether the copy was incremental
	// (managed sub-dataspace) or a full unmanaged copy.
	BytesCopied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkpointcore",
		Subsystem: "checkpoint",
		Name:      "bytes_copied_total",
		Help:      "Dataspace bytes copied into the stored-info graph.",
	}, []string{"kind"})

	// LiveShadows gauges the number of live shadow records per session
	// kind across all monitored children. No code in this module
	// updates it.
	LiveShadows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "checkpointcore",
		Subsystem: "checkpoint",
		Name:      "live_shadows",
		Help:      "Live shadow records by session kind.",
	}, []string{"kind"})

	// SnapshotBytes gauges the compressed size of the most recent
	// snapshot.
	SnapshotBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkpointcore",
		Subsystem: "checkpoint",
		Name:      "snapshot_bytes",
		Help:      "Size in bytes of the most recent compressed snapshot.",
	})
)

// MustRegister registers every collector above against reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(StepDuration, BytesCopied, LiveShadows, SnapshotBytes)
}
