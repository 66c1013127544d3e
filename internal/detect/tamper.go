package detect

import (
	"fmt"

	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
)

// TamperDetector implements spec §4.3.b: DLC, entropy, static-byte, and
// byte-behavior anomaly rules, evaluated and emitted in that fixed order
// (determinism requirement).
type TamperDetector struct{}

func (d *TamperDetector) Detect(in Input) []model.Alert {
	if !in.HasBaseline || in.Baseline == nil {
		return nil
	}

	var out []model.Alert
	cfg := in.Config.Tamper

	// The DLC whitelist rule runs regardless of Trained: spec §4.2 says
	// untrained IDs "are still recognized as known IDs but tamper
	// detection suppresses byte/entropy rules for them" — the DLC check
	// is neither a byte rule nor an entropy rule.
	if a := d.checkDLC(in, cfg); a != nil {
		out = append(out, *a)
	}

	if !in.Baseline.Trained {
		return out
	}

	if a := d.checkEntropy(in, cfg); a != nil {
		out = append(out, *a)
	}
	if a := d.checkStaticBytes(in, cfg); a != nil {
		out = append(out, *a)
	}
	if a := d.checkByteBehavior(in, cfg); a != nil {
		out = append(out, *a)
	}
	return out
}

func (d *TamperDetector) checkDLC(in Input, cfg config.TamperConfig) *model.Alert {
	if cfg.DLCLearningMode != config.DLCStrictWhitelist && cfg.DLCLearningMode != config.DLCAdaptive {
		return nil
	}
	if len(in.Baseline.LearnedDLCs) == 0 {
		// No learned whitelist yet (e.g. a general-rules shadow-mode
		// auto-add with zero learning samples) — nothing to check against.
		return nil
	}
	if in.Baseline.HasDLC(in.Frame.DLC) {
		return nil
	}
	return &model.Alert{
		Timestamp: in.Frame.Timestamp,
		CANID:     in.Frame.CANID,
		Type:      model.AlertTamperDLCAnomaly,
		Severity:  model.SeverityHigh,
		Details:   fmt.Sprintf("dlc %d not in learned whitelist", in.Frame.DLC),
		Context:   map[string]any{"dlc": in.Frame.DLC},
	}
}

func (d *TamperDetector) checkEntropy(in Input, cfg config.TamperConfig) *model.Alert {
	if !cfg.EntropyParams.Enabled {
		return nil
	}
	if int(in.Frame.DLC) < cfg.PayloadAnalysisMinDLC {
		return nil
	}
	if in.Baseline.EntropySamples < int64(in.MinEntropySamples) {
		return nil
	}

	entropy := baseline.Entropy(in.Frame.Payload)
	delta := entropy - in.Baseline.EntropyMean
	if delta < 0 {
		delta = -delta
	}
	if delta <= cfg.EntropyParams.SigmaThreshold*in.Baseline.EntropySigma {
		return nil
	}
	return &model.Alert{
		Timestamp: in.Frame.Timestamp,
		CANID:     in.Frame.CANID,
		Type:      model.AlertEntropyAnomaly,
		Severity:  model.SeverityMedium,
		Details:   fmt.Sprintf("payload entropy %.3f deviates from learned mean %.3f by more than %.1fσ", entropy, in.Baseline.EntropyMean, cfg.EntropyParams.SigmaThreshold),
		Context: map[string]any{
			"entropy": entropy, "entropy_mean": in.Baseline.EntropyMean, "entropy_sigma": in.Baseline.EntropySigma,
		},
	}
}

func (d *TamperDetector) checkStaticBytes(in Input, cfg config.TamperConfig) *model.Alert {
	if !cfg.ByteBehaviorParams.Enabled {
		return nil
	}
	var mismatches []int
	for i, behavior := range in.Baseline.ByteBehavior {
		if behavior.Kind != baseline.BehaviorStatic {
			continue
		}
		if i >= len(in.Frame.Payload) {
			continue
		}
		if in.Frame.Payload[i] != behavior.StaticValue {
			mismatches = append(mismatches, i)
		}
	}
	if len(mismatches) < cfg.ByteBehaviorParams.StaticByteMismatchThreshold {
		return nil
	}
	return &model.Alert{
		Timestamp: in.Frame.Timestamp,
		CANID:     in.Frame.CANID,
		Type:      model.AlertStaticByteMismatch,
		Severity:  model.SeverityHigh,
		Details:   fmt.Sprintf("%d static byte position(s) mismatched: %v", len(mismatches), mismatches),
		Context:   map[string]any{"positions": mismatches},
	}
}

func (d *TamperDetector) checkByteBehavior(in Input, cfg config.TamperConfig) *model.Alert {
	if !cfg.ByteBehaviorParams.Enabled {
		return nil
	}
	params := cfg.ByteBehaviorParams.CounterByteParams

	var deviations []int
	for i, behavior := range in.Baseline.ByteBehavior {
		if i >= len(in.Frame.Payload) {
			continue
		}
		cur := in.Frame.Payload[i]

		switch behavior.Kind {
		case baseline.BehaviorVariable:
			if cur < behavior.Min || cur > behavior.Max {
				deviations = append(deviations, i)
			}
		case baseline.BehaviorCounter:
			if !params.DetectSimpleCounters {
				continue
			}
			history := in.State.ByteHistory[i]
			if len(history) < 2 {
				continue
			}
			prev := history[len(history)-2]
			if !baseline.WithinCounterStep(prev, cur, behavior, params.AllowedCounterSkips) {
				deviations = append(deviations, i)
			}
		}
	}

	if len(deviations) == 0 {
		return nil
	}

	severity := model.SeverityMedium
	if len(deviations) >= 4 {
		severity = model.SeverityHigh
	}
	return &model.Alert{
		Timestamp: in.Frame.Timestamp,
		CANID:     in.Frame.CANID,
		Type:      model.AlertByteBehaviorAnomaly,
		Severity:  severity,
		Details:   fmt.Sprintf("%d byte position(s) deviated from learned behavior: %v", len(deviations), deviations),
		Context:   map[string]any{"positions": deviations},
	}
}
