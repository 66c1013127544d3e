package detect

import (
	"fmt"
	"sync"

	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
)

// GeneralRulesDetector implements spec §4.3.d: unknown-ID detection in
// either strict or shadow mode. Shadow mode's per-ID timer and the
// auto_add_to_baseline bookkeeping are the detector's own state; the
// one baseline mutation it performs — adding a brand-new untrained
// entry once a shadow window closes — is the documented exception to
// the "detectors never mutate the Baseline Engine" rule.
type GeneralRulesDetector struct {
	engine *baseline.Engine

	mu              sync.Mutex
	shadowFirstSeen map[uint32]float64
	addedToBaseline map[uint32]bool
}

// NewGeneralRulesDetector constructs a GeneralRulesDetector backed by
// engine, which it may call AddUntrained on in shadow mode.
func NewGeneralRulesDetector(engine *baseline.Engine) *GeneralRulesDetector {
	return &GeneralRulesDetector{
		engine:          engine,
		shadowFirstSeen: make(map[uint32]float64),
		addedToBaseline: make(map[uint32]bool),
	}
}

func (d *GeneralRulesDetector) Detect(in Input) []model.Alert {
	cfg := in.Config.GeneralRules.DetectUnknownID
	if !cfg.Enabled {
		return nil
	}
	if !in.BaselineReady {
		return nil
	}
	if in.HasBaseline {
		return nil
	}

	switch cfg.LearningMode {
	case config.GeneralRulesStrict:
		return []model.Alert{{
			Timestamp: in.Frame.Timestamp,
			CANID:     in.Frame.CANID,
			Type:      model.AlertUnknownIDDetected,
			Severity:  model.SeverityMedium,
			Details:   fmt.Sprintf("can_id %s is not part of the baseline", in.Frame.IDHex()),
			Context:   map[string]any{"can_id": in.Frame.CANID},
		}}
	case config.GeneralRulesShadow:
		d.observeShadow(in.Frame.CANID, in.Frame.Timestamp, cfg)
		return nil
	default:
		return nil
	}
}

func (d *GeneralRulesDetector) observeShadow(canID uint32, now float64, cfg config.DetectUnknownID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	firstSeen, ok := d.shadowFirstSeen[canID]
	if !ok {
		d.shadowFirstSeen[canID] = now
		firstSeen = now
	}

	if now-firstSeen < cfg.ShadowDurationSec {
		return
	}
	if !cfg.AutoAddToBaseline || d.addedToBaseline[canID] {
		return
	}
	d.engine.AddUntrained(canID)
	d.addedToBaseline[canID] = true
}
