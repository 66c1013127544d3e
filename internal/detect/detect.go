// Package detect implements the four Detectors of spec §4.3: Drop,
// Tamper, Replay, and GeneralRules. Each is a pure function of
// (frame, state snapshot, baseline) to a slice of alerts — no
// callbacks, no shared globals, no mutation of State Manager or
// Baseline Engine state (the one documented exception is
// GeneralRules' shadow-mode auto_add_to_baseline, which only ever
// appends a brand-new untrained entry via baseline.Engine.AddUntrained).
package detect

import (
	"time"

	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/metrics"
	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/state"
)

// Input bundles everything a Detector needs to evaluate one frame.
type Input struct {
	Frame         model.Frame
	State         state.Snapshot
	Baseline      *baseline.IdBaseline
	HasBaseline   bool
	BaselineReady bool
	Config        config.Effective
	Now           float64

	// MinEntropySamples gates the entropy-anomaly rule (spec §4.3.b rule 2:
	// "skipped when entropy_samples < min_entropy_samples"). It comes from
	// the global learning config, not a per-ID override.
	MinEntropySamples int
}

// Detector is the common contract from spec §4.3.
type Detector interface {
	Detect(in Input) []model.Alert
}

type namedDetector struct {
	name string
	Detector
}

// Chain runs every detector in the fixed order the spec mandates
// (Drop → Tamper → Replay → GeneralRules, spec §5 "ordering
// guarantees") and concatenates their alerts in that order.
type Chain struct {
	detectors []namedDetector
}

// NewChain builds the standard Drop→Tamper→Replay→GeneralRules chain.
// replay and general carry their own cross-frame bookkeeping (sequence
// history, shadow timers) so callers construct them once and reuse them
// across every frame.
func NewChain(replay *ReplayDetector, general *GeneralRulesDetector) *Chain {
	return &Chain{
		detectors: []namedDetector{
			{"drop", &DropDetector{}},
			{"tamper", &TamperDetector{}},
			{"replay", replay},
			{"general_rules", general},
		},
	}
}

// Detect runs every detector in order and returns their alerts
// concatenated, preserving detection order (spec §5). Each detector's
// evaluation time against this one frame is observed on
// metrics.DetectorDuration, labeled by detector name.
func (c *Chain) Detect(in Input) []model.Alert {
	var out []model.Alert
	for _, d := range c.detectors {
		start := time.Now()
		alerts := d.Detect(in)
		metrics.DetectorDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
		out = append(out, alerts...)
	}
	return out
}

// highestSeverity returns the alert with the greatest Severity among
// alerts, used by detectors whose rules are mutually tie-broken onto a
// single emission (spec §4.3.a: "when two rules fire on the same
// frame, emit the highest-severity alert only"). Ties on Severity are
// broken by the lexicographically greatest alert_type (spec §9; spec
// §8 scenario 6 pins missing_frame_sigma over the co-high
// consecutive_missing).
func highestSeverity(alerts []model.Alert) []model.Alert {
	if len(alerts) <= 1 {
		return alerts
	}
	best := alerts[0]
	for _, a := range alerts[1:] {
		switch {
		case a.Severity > best.Severity:
			best = a
		case a.Severity == best.Severity && a.Type > best.Type:
			best = a
		}
	}
	return []model.Alert{best}
}
