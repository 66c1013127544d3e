package orchestrator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/navispectra/canids/internal/alertmgr"
	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/state"
)

// fakeSource replays a fixed slice of frames, then reports io.EOF, the
// way an offline tracefile.Source behaves.
type fakeSource struct {
	frames []model.Frame
	pos    int
	closed bool
}

func (s *fakeSource) Next(ctx context.Context) (model.Frame, bool, error) {
	if s.pos >= len(s.frames) {
		return model.Frame{}, false, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func frame(ts float64, canID uint32, dlc uint8, payload []byte) model.Frame {
	return model.Frame{Timestamp: ts, CANID: canID, DLC: dlc, Payload: payload}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Learning.InitialLearningWindowSec = 1
	cfg.Learning.MinEntropySamples = 1
	return cfg
}

func TestRunLearningModeFreezesBaselineOnSourceExhaustion(t *testing.T) {
	src := &fakeSource{frames: []model.Frame{
		frame(0.0, 0x100, 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		frame(0.1, 0x100, 8, []byte{1, 2, 3, 4, 5, 6, 7, 9}),
	}}
	cfg := testConfig()
	states := state.NewManager()
	engine := baseline.New(1, 1, 1, 1)
	alerts := alertmgr.New(cfg, states, map[string]model.Sink{})

	o := New(cfg, zerolog.Nop(), src, states, engine, alerts, model.ModeLearning,
		WithEvictionInterval(time.Hour), WithStatsInterval(time.Hour))

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !engine.Frozen() {
		t.Fatalf("expected baseline engine to be frozen after source exhaustion in learning mode")
	}
	if !src.closed {
		t.Fatalf("expected source to be closed on shutdown")
	}
	if got := o.Stats().FramesProcessed; got != 2 {
		t.Fatalf("expected 2 frames processed, got %d", got)
	}
}

func TestDetectModeStartsWithBaselineReadyWithoutAutoTransition(t *testing.T) {
	// A process started directly in "detect" run mode loads an
	// already-frozen baseline from disk and never calls AutoTransition
	// or onLearningWindowClosed — baselineReady must still end up true
	// from construction, or GeneralRulesDetector's unknown_id_detected
	// rule is silently dead for the whole run (spec §6's "detect" mode).
	src := &fakeSource{frames: []model.Frame{
		frame(0.0, 0x777, 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
	}}
	cfg := testConfig()
	cfg.GeneralRules.DetectUnknownID.Enabled = true
	cfg.GeneralRules.DetectUnknownID.LearningMode = config.GeneralRulesStrict
	states := state.NewManager()
	engine := baseline.New(1, 1, 1, 1)
	engine.Freeze()
	alerts := alertmgr.New(cfg, states, map[string]model.Sink{})

	o := New(cfg, zerolog.Nop(), src, states, engine, alerts, model.ModeDetecting,
		WithEvictionInterval(time.Hour), WithStatsInterval(time.Hour))

	if !o.baselineReady {
		t.Fatalf("expected baselineReady true immediately for a process started in detect mode")
	}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := o.alerts.Stats().Emitted; got != 1 {
		t.Fatalf("expected unknown_id_detected to fire for an ID absent from the frozen baseline, got %d alerts emitted", got)
	}
}

func TestRunDetectModeDoesNotTouchBaselineEngine(t *testing.T) {
	src := &fakeSource{frames: []model.Frame{
		frame(0.0, 0x200, 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
	}}
	cfg := testConfig()
	states := state.NewManager()
	engine := baseline.New(1, 1, 1, 1)
	engine.Freeze()
	alerts := alertmgr.New(cfg, states, map[string]model.Sink{})

	o := New(cfg, zerolog.Nop(), src, states, engine, alerts, model.ModeDetecting,
		WithEvictionInterval(time.Hour), WithStatsInterval(time.Hour))

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := engine.Lookup(0x200); ok {
		t.Fatalf("detect mode must not add new baseline entries outside GeneralRules shadow behavior")
	}
}

func TestEvictionUsesLastFrameTimestampNotWallClock(t *testing.T) {
	// processFrame's frame.Timestamp is a small stream-relative value far
	// below any real wall-clock time. If the eviction tick used
	// time.Now() as "now" instead of the last processed frame's
	// timestamp, now-lastSeen would far exceed eviction_age_sec on an
	// offline trace and wipe every tracked ID on the very first tick.
	src := &fakeSource{}
	cfg := testConfig()
	cfg.Memory.EvictionAgeSec = 600
	states := state.NewManager()
	engine := baseline.New(1, 1, 1, 1)
	engine.Freeze()
	alerts := alertmgr.New(cfg, states, map[string]model.Sink{})

	o := New(cfg, zerolog.Nop(), src, states, engine, alerts, model.ModeDetecting,
		WithEvictionInterval(time.Hour), WithStatsInterval(time.Hour))

	o.processFrame(frame(5.0, 0x300, 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	o.handleCommand(cmdEvict)

	if _, ok := states.Get(0x300); !ok {
		t.Fatalf("expected 0x300 to still be tracked after an eviction tick driven by stream time, not wall-clock time")
	}
}

func TestRunSkipsMalformedFrames(t *testing.T) {
	src := &fakeSource{frames: []model.Frame{
		frame(0.0, 0x100, 9, make([]byte, 9)),
		frame(0.1, 0x100, 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
	}}
	cfg := testConfig()
	states := state.NewManager()
	engine := baseline.New(1, 1, 1, 1)
	alerts := alertmgr.New(cfg, states, map[string]model.Sink{})

	o := New(cfg, zerolog.Nop(), src, states, engine, alerts, model.ModeLearning,
		WithEvictionInterval(time.Hour), WithStatsInterval(time.Hour))

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := o.Stats()
	if stats.MalformedFrames != 1 {
		t.Fatalf("expected 1 malformed frame, got %d", stats.MalformedFrames)
	}
	if stats.FramesProcessed != 1 {
		t.Fatalf("expected 1 processed frame, got %d", stats.FramesProcessed)
	}
}

func TestAutoTransitionFreezesAndSwitchesMode(t *testing.T) {
	cfg := testConfig()
	states := state.NewManager()
	engine := baseline.New(1, 1, 1, 1)
	alerts := alertmgr.New(cfg, states, map[string]model.Sink{})
	src := &fakeSource{}

	o := New(cfg, zerolog.Nop(), src, states, engine, alerts, model.ModeLearning)

	if err := o.AutoTransition(); err != nil {
		t.Fatalf("AutoTransition: %v", err)
	}
	if !engine.Frozen() {
		t.Fatalf("expected engine frozen after AutoTransition")
	}
	if o.mode != model.ModeDetecting {
		t.Fatalf("expected mode to switch to detecting, got %v", o.mode)
	}
	if err := o.AutoTransition(); err != nil {
		t.Fatalf("second AutoTransition should be a no-op, got err: %v", err)
	}
}

func TestReadyToDetectRespectsLearningWindow(t *testing.T) {
	src := &fakeSource{frames: []model.Frame{
		frame(0.0, 0x100, 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
	}}
	cfg := testConfig()
	cfg.Learning.InitialLearningWindowSec = 5
	states := state.NewManager()
	engine := baseline.New(1, 1, 1, 1)
	alerts := alertmgr.New(cfg, states, map[string]model.Sink{})

	o := New(cfg, zerolog.Nop(), src, states, engine, alerts, model.ModeLearning,
		WithEvictionInterval(time.Hour), WithStatsInterval(time.Hour))

	o.processFrame(src.frames[0])

	if o.ReadyToDetect(1.0) {
		t.Fatalf("should not be ready to detect before window elapses")
	}
	if !o.ReadyToDetect(5.0) {
		t.Fatalf("should be ready to detect once window elapses")
	}
}
