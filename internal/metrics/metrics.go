// Package metrics exposes Prometheus instrumentation for the
// detection pipeline, following the promauto registration style used
// throughout the pack (see internal/metrics/metrics.go in the
// cartographus example).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canids_frames_processed_total",
			Help: "Total number of CAN frames that passed validation and were fed into the pipeline.",
		},
	)

	FramesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canids_frames_malformed_total",
			Help: "Total number of frames rejected by State Manager validation.",
		},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canids_source_errors_total",
			Help: "Total number of errors returned by the frame source.",
		},
		[]string{"source"},
	)

	TrackedIDs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canids_tracked_ids",
			Help: "Current number of CAN IDs with live State Manager entries.",
		},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canids_alerts_emitted_total",
			Help: "Total number of alerts that passed throttling and were routed to sinks.",
		},
		[]string{"alert_type", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canids_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by per-ID/per-type cooldown.",
		},
		[]string{"alert_type"},
	)

	AlertsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canids_alerts_dropped_total",
			Help: "Total number of alerts dropped by rate limiting.",
		},
		[]string{"scope"}, // "per_id" or "global"
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canids_sink_errors_total",
			Help: "Total number of errors returned by an alert sink's Write.",
		},
		[]string{"sink"},
	)

	DetectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canids_detector_duration_seconds",
			Help:    "Time spent evaluating a single detector against one frame.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
		[]string{"detector"},
	)

	BaselineEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canids_baseline_entries",
			Help: "Current number of CAN IDs with a frozen baseline entry.",
		},
	)

	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canids_evictions_total",
			Help: "Total number of State Manager entries evicted for staleness or memory pressure.",
		},
	)
)
