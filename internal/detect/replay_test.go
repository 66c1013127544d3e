package detect

import (
	"testing"

	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/state"
)

func TestReplayDetectorFastReplay(t *testing.T) {
	d := NewReplayDetector()
	in := Input{
		Frame: model.Frame{Timestamp: 1, CANID: 0x300, DLC: 8},
		State: state.Snapshot{HasLastIAT: true, LastIAT: 0.0005},
		Baseline: &baseline.IdBaseline{
			CANID: 0x300, IATMean: 0.01,
		},
		HasBaseline: true,
		Config: config.Effective{
			Replay: config.ReplayConfig{MinIATFactorForFastReplay: 0.3, AbsoluteMinIATMs: 1.0},
		},
	}

	alerts := d.Detect(in)
	found := false
	for _, a := range alerts {
		if a.Type == model.AlertNonPeriodicFastReplay {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected non_periodic_fast_replay alert, got %v", alerts)
	}
}

func TestReplayDetectorIdenticalPayloadRepetition(t *testing.T) {
	d := NewReplayDetector()
	history := []state.HashedPayload{
		{Timestamp: 0.0, Hash: 42},
		{Timestamp: 0.2, Hash: 42},
		{Timestamp: 0.4, Hash: 42},
	}
	in := Input{
		Frame: model.Frame{Timestamp: 0.4, CANID: 0x301, DLC: 8},
		State: state.Snapshot{PayloadHashHistory: history},
		Config: config.Effective{
			Replay: config.ReplayConfig{
				IdenticalPayloadParams: config.IdenticalPayloadParams{
					Enabled: true, TimeWindowMs: 1000, RepetitionThreshold: 3,
				},
			},
		},
	}

	alerts := d.Detect(in)
	found := false
	for _, a := range alerts {
		if a.Type == model.AlertIdenticalPayloadRepeat {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected identical_payload_repetition alert, got %v", alerts)
	}
}

func TestReplayDetectorSequenceReplayRequiresPriorAppearance(t *testing.T) {
	d := NewReplayDetector()
	seq := []uint64{1, 2, 3, 4, 5}
	cfg := config.Effective{
		Replay: config.ReplayConfig{
			SequenceReplayParams: config.SequenceReplayParams{
				Enabled: true, SequenceLength: 5,
				MinIntervalBetweenSequencesSec: 1, MaxSequenceAgeSec: 100,
			},
		},
	}

	first := Input{
		Frame:  model.Frame{Timestamp: 10, CANID: 0x302},
		State:  state.Snapshot{SequenceBuffer: seq},
		Config: cfg,
	}
	if alerts := d.Detect(first); len(alerts) != 0 {
		t.Fatalf("expected no alert the first time a sequence is seen, got %v", alerts)
	}

	second := Input{
		Frame:  model.Frame{Timestamp: 15, CANID: 0x302},
		State:  state.Snapshot{SequenceBuffer: seq},
		Config: cfg,
	}
	alerts := d.Detect(second)
	found := false
	for _, a := range alerts {
		if a.Type == model.AlertSequenceReplay {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sequence_replay alert on second appearance, got %v", alerts)
	}
}

func TestReplayDetectorSequenceReplayTooSoonIsSuppressed(t *testing.T) {
	d := NewReplayDetector()
	seq := []uint64{9, 9, 9, 9, 9}
	cfg := config.Effective{
		Replay: config.ReplayConfig{
			SequenceReplayParams: config.SequenceReplayParams{
				Enabled: true, SequenceLength: 5,
				MinIntervalBetweenSequencesSec: 10, MaxSequenceAgeSec: 100,
			},
		},
	}
	d.Detect(Input{Frame: model.Frame{Timestamp: 0, CANID: 0x303}, State: state.Snapshot{SequenceBuffer: seq}, Config: cfg})
	alerts := d.Detect(Input{Frame: model.Frame{Timestamp: 1, CANID: 0x303}, State: state.Snapshot{SequenceBuffer: seq}, Config: cfg})
	for _, a := range alerts {
		if a.Type == model.AlertSequenceReplay {
			t.Fatalf("expected sequence_replay suppressed when re-seen before min_interval_between_sequences_sec")
		}
	}
}
