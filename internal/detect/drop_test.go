package detect

import (
	"testing"

	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/state"
)

func trainedBaseline(canID uint32) *baseline.IdBaseline {
	return &baseline.IdBaseline{
		CANID:       canID,
		IATMean:     0.01,
		IATSigma:    0.001,
		Trained:     true,
		LearnedDLCs: map[uint8]bool{8: true},
	}
}

func TestDropDetectorMissingFrame(t *testing.T) {
	d := &DropDetector{}
	in := Input{
		Frame:       model.Frame{Timestamp: 1, CANID: 0x100, DLC: 8},
		State:       state.Snapshot{HasLastIAT: true, LastIAT: 0.05},
		Baseline:    trainedBaseline(0x100),
		HasBaseline: true,
		Config: config.Effective{
			Drop: config.DropConfig{MissingFrameSigma: 3.5, MaxIATFactor: 2.5, ConsecutiveMissingAllowed: 2},
		},
	}

	alerts := d.Detect(in)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert (tie-break to highest severity), got %d", len(alerts))
	}
	if alerts[0].Type != model.AlertMissingFrameSigma {
		t.Fatalf("expected missing_frame_sigma to win the high-severity tie with consecutive_missing, got %v", alerts[0].Type)
	}
	if alerts[0].Severity != model.SeverityHigh {
		t.Fatalf("expected missing_frame_sigma (high) to win over iat_max_factor_violation (medium), got %v", alerts[0].Type)
	}
}

func TestDropDetectorNoAlertWithinNormalIAT(t *testing.T) {
	d := &DropDetector{}
	in := Input{
		Frame:       model.Frame{Timestamp: 1, CANID: 0x100, DLC: 8},
		State:       state.Snapshot{HasLastIAT: true, LastIAT: 0.01},
		Baseline:    trainedBaseline(0x100),
		HasBaseline: true,
		Config: config.Effective{
			Drop: config.DropConfig{MissingFrameSigma: 3.5, MaxIATFactor: 2.5, ConsecutiveMissingAllowed: 2},
		},
	}
	if alerts := d.Detect(in); len(alerts) != 0 {
		t.Fatalf("expected no alert for a normal iat, got %v", alerts)
	}
}

func TestDropDetectorSkipsBaselineWithoutIATMean(t *testing.T) {
	d := &DropDetector{}
	in := Input{
		Frame:    model.Frame{Timestamp: 1, CANID: 0x100, DLC: 8},
		State:    state.Snapshot{HasLastIAT: true, LastIAT: 10},
		Baseline: &baseline.IdBaseline{CANID: 0x100, IATMean: 0}, // no learned mean
		HasBaseline: true,
		Config: config.Effective{
			Drop: config.DropConfig{MissingFrameSigma: 3.5, MaxIATFactor: 2.5},
		},
	}
	if alerts := d.Detect(in); len(alerts) != 0 {
		t.Fatalf("expected no alert when baseline has no positive iat_mean, got %v", alerts)
	}
}
