package detect

import (
	"fmt"
	"math"

	"github.com/navispectra/canids/internal/model"
)

// DropDetector implements spec §4.3.a: missing-frame detection on
// periodic IDs via inter-arrival-time statistics.
type DropDetector struct{}

func (d *DropDetector) Detect(in Input) []model.Alert {
	if !in.HasBaseline || in.Baseline == nil || in.Baseline.IATMean <= 0 {
		return nil
	}
	if !in.State.HasLastIAT {
		return nil
	}

	cfg := in.Config.Drop
	iat := in.State.LastIAT
	mean := in.Baseline.IATMean
	sigma := in.Baseline.IATSigma

	var candidates []model.Alert

	if cfg.MaxIATFactor > 0 && iat > mean*cfg.MaxIATFactor {
		candidates = append(candidates, model.Alert{
			Timestamp: in.Frame.Timestamp,
			CANID:     in.Frame.CANID,
			Type:      model.AlertIATMaxFactorViolation,
			Severity:  model.SeverityMedium,
			Details:   fmt.Sprintf("iat %.6fs exceeds %.1fx the learned mean %.6fs", iat, cfg.MaxIATFactor, mean),
			Context: map[string]any{
				"iat": iat, "iat_mean": mean, "max_iat_factor": cfg.MaxIATFactor,
			},
		})
	}

	if cfg.MissingFrameSigma > 0 && iat > mean+cfg.MissingFrameSigma*sigma {
		candidates = append(candidates, model.Alert{
			Timestamp: in.Frame.Timestamp,
			CANID:     in.Frame.CANID,
			Type:      model.AlertMissingFrameSigma,
			Severity:  model.SeverityHigh,
			Details:   fmt.Sprintf("iat %.6fs exceeds mean+%.1fσ (%.6fs)", iat, cfg.MissingFrameSigma, mean+cfg.MissingFrameSigma*sigma),
			Context: map[string]any{
				"iat": iat, "iat_mean": mean, "iat_sigma": sigma, "missing_frame_sigma": cfg.MissingFrameSigma,
			},
		})
	}

	if mean > 0 {
		estimatedMissing := int(math.Floor(iat/mean)) - 1
		if estimatedMissing > cfg.ConsecutiveMissingAllowed {
			candidates = append(candidates, model.Alert{
				Timestamp: in.Frame.Timestamp,
				CANID:     in.Frame.CANID,
				Type:      model.AlertConsecutiveMissing,
				Severity:  model.SeverityHigh,
				Details:   fmt.Sprintf("estimated %d consecutive missing frames exceeds allowed %d", estimatedMissing, cfg.ConsecutiveMissingAllowed),
				Context: map[string]any{
					"estimated_missing": estimatedMissing, "consecutive_missing_allowed": cfg.ConsecutiveMissingAllowed,
				},
			})
		}
	}

	return highestSeverity(candidates)
}
