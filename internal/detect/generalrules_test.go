package detect

import (
	"testing"

	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
)

func TestGeneralRulesStrictEmitsUnknownID(t *testing.T) {
	engine := baseline.New(1, 1, 1, 0)
	_ = engine.Freeze()
	d := NewGeneralRulesDetector(engine)

	in := Input{
		Frame:         model.Frame{Timestamp: 1, CANID: 0x400},
		HasBaseline:   false,
		BaselineReady: true,
		Config: config.Effective{
			GeneralRules: config.GeneralRulesConfig{
				DetectUnknownID: config.DetectUnknownID{Enabled: true, LearningMode: config.GeneralRulesStrict},
			},
		},
	}

	alerts := d.Detect(in)
	if len(alerts) != 1 || alerts[0].Type != model.AlertUnknownIDDetected {
		t.Fatalf("expected a single unknown_id_detected alert, got %v", alerts)
	}
}

func TestGeneralRulesShadowNeverEmits(t *testing.T) {
	engine := baseline.New(1, 1, 1, 0)
	_ = engine.Freeze()
	d := NewGeneralRulesDetector(engine)

	cfg := config.Effective{
		GeneralRules: config.GeneralRulesConfig{
			DetectUnknownID: config.DetectUnknownID{
				Enabled: true, LearningMode: config.GeneralRulesShadow,
				ShadowDurationSec: 60, AutoAddToBaseline: true,
			},
		},
	}

	for _, ts := range []float64{0, 30, 70} {
		in := Input{Frame: model.Frame{Timestamp: ts, CANID: 0x401}, HasBaseline: false, BaselineReady: true, Config: cfg}
		if alerts := d.Detect(in); len(alerts) != 0 {
			t.Fatalf("expected shadow mode to never emit, got %v", alerts)
		}
	}

	if !engine.Contains(0x401) {
		t.Fatalf("expected 0x401 auto-added to baseline after the shadow window closed")
	}
	b, _ := engine.Lookup(0x401)
	if b.Trained {
		t.Fatalf("expected auto-added entry to be untrained")
	}
}

func TestGeneralRulesSkippedBeforeBaselineReady(t *testing.T) {
	engine := baseline.New(1, 1, 1, 0)
	_ = engine.Freeze()
	d := NewGeneralRulesDetector(engine)

	in := Input{
		Frame:         model.Frame{Timestamp: 1, CANID: 0x402},
		HasBaseline:   false,
		BaselineReady: false,
		Config: config.Effective{
			GeneralRules: config.GeneralRulesConfig{
				DetectUnknownID: config.DetectUnknownID{Enabled: true, LearningMode: config.GeneralRulesStrict},
			},
		},
	}
	if alerts := d.Detect(in); len(alerts) != 0 {
		t.Fatalf("expected no alert before baseline_ready, got %v", alerts)
	}
}

func TestGeneralRulesSkipsKnownID(t *testing.T) {
	engine := baseline.New(1, 1, 1, 0)
	_ = engine.Freeze()
	engine.AddUntrained(0x403)
	d := NewGeneralRulesDetector(engine)

	in := Input{
		Frame:         model.Frame{Timestamp: 1, CANID: 0x403},
		HasBaseline:   true,
		BaselineReady: true,
		Config: config.Effective{
			GeneralRules: config.GeneralRulesConfig{
				DetectUnknownID: config.DetectUnknownID{Enabled: true, LearningMode: config.GeneralRulesStrict},
			},
		},
	}
	if alerts := d.Detect(in); len(alerts) != 0 {
		t.Fatalf("expected no alert for a known id, got %v", alerts)
	}
}
