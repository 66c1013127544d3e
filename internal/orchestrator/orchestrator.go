// Package orchestrator implements the single-threaded, synchronous
// pipeline of spec §5: State Manager → Baseline Engine or Detectors →
// Alert Manager, one frame fully processed before the next is
// accepted. A separate goroutine drives eviction and stats reporting
// on a ticker, the way the teacher's Manager drives its
// runResetter/runSnapshotter loops
// (internal/engine/manager/manager.go) — generalized from a
// per-writer snapshot ticker to a single between-frame command
// channel, since spec §5 requires the eviction/stats task to
// "interact with the core only via message-passed commands ... consumed
// between frames" rather than run concurrently with frame processing.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/navispectra/canids/internal/alertmgr"
	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/detect"
	"github.com/navispectra/canids/internal/metrics"
	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/state"
)

type command int

const (
	cmdEvict command = iota
	cmdStats
)

// Stats is a point-in-time snapshot of pipeline counters, logged on
// every stats tick and on shutdown (spec §4.4's stats tick). It carries
// no per-detector error counts; detectors have no failure path that
// reports one.
type Stats struct {
	RunID           string
	FramesProcessed uint64
	MalformedFrames uint64
	SourceErrors    uint64
	TrackedIDs      int
	AlertManager    alertmgr.Stats
}

// Orchestrator wires the State Manager, Baseline Engine, Detector
// chain, and Alert Manager into the run modes spec §6 names: learn,
// detect, auto.
type Orchestrator struct {
	runID  string
	cfg    *config.Config
	log    zerolog.Logger
	source model.Source
	states *state.Manager
	engine *baseline.Engine
	chain  *detect.Chain
	alerts *alertmgr.Manager

	mode model.Mode
	// autoPromote is true for "auto" mode (spec §6): once the learning
	// window closes, the pipeline freezes the baseline and continues
	// running as a detector rather than exiting. "learn" mode leaves
	// this false: the window closing ends the run.
	autoPromote bool

	evictionInterval time.Duration
	statsInterval    time.Duration
	commands         chan command

	learningDeadline  float64
	hasDeadline       bool
	learningStartedAt float64
	hasLearningStart  bool

	lastTimestamp    float64
	hasLastTimestamp bool

	baselineReady bool

	mu              sync.Mutex
	framesProcessed uint64
	malformedFrames uint64
	sourceErrors    uint64
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithEvictionInterval overrides the default 30s eviction cadence.
func WithEvictionInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.evictionInterval = d }
}

// WithStatsInterval overrides the default 10s stats cadence.
func WithStatsInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.statsInterval = d }
}

// WithAutoPromote makes a learning-mode Orchestrator transition to
// detecting once its learning window closes, instead of exiting
// (spec §6's "auto" run mode).
func WithAutoPromote() Option {
	return func(o *Orchestrator) { o.autoPromote = true }
}

// New constructs an Orchestrator for the given run mode.
func New(cfg *config.Config, log zerolog.Logger, source model.Source, states *state.Manager, engine *baseline.Engine, alerts *alertmgr.Manager, mode model.Mode, opts ...Option) *Orchestrator {
	general := detect.NewGeneralRulesDetector(engine)
	replay := detect.NewReplayDetector()

	runID := uuid.NewString()
	o := &Orchestrator{
		runID:            runID,
		cfg:              cfg,
		log:              log.With().Str("run_id", runID).Logger(),
		source:           source,
		states:           states,
		engine:           engine,
		chain:            detect.NewChain(replay, general),
		alerts:           alerts,
		mode:             mode,
		evictionInterval: 30 * time.Second,
		statsInterval:    10 * time.Second,
		commands:         make(chan command, 8),
		// A process started directly in detect/shadow mode (spec §6's
		// "detect" run: baseline loaded from disk, or already frozen by
		// the caller) has no learning window to freeze at — the baseline
		// is ready for detection from the first frame.
		baselineReady: mode != model.ModeLearning || engine.Frozen(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives the pipeline to completion: for learn mode, until the
// source exhausts or the learning window closes; for detect/auto,
// until ctx is cancelled or the source exhausts.
func (o *Orchestrator) Run(ctx context.Context) error {
	stopTicker := o.startBackgroundTicker(ctx)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return o.shutdown()
		case cmd := <-o.commands:
			o.handleCommand(cmd)
			continue
		default:
		}

		frame, ok, err := o.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return o.onSourceExhausted()
		}
		if err != nil {
			o.mu.Lock()
			o.sourceErrors++
			o.mu.Unlock()
			metrics.SourceErrors.WithLabelValues("pipeline").Inc()
			o.log.Warn().Err(err).Msg("source error")
			continue
		}
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		if verr := state.Validate(frame); verr != nil {
			o.mu.Lock()
			o.malformedFrames++
			o.mu.Unlock()
			metrics.FramesMalformed.Inc()
			continue
		}

		o.processFrame(frame)

		o.mu.Lock()
		o.framesProcessed++
		o.mu.Unlock()
		metrics.FramesProcessed.Inc()
		metrics.TrackedIDs.Set(float64(o.states.TrackedIDs()))

		if o.ReadyToDetect(frame.Timestamp) {
			if o.autoPromote {
				if err := o.AutoTransition(); err != nil {
					return err
				}
			} else {
				return o.onLearningWindowClosed()
			}
		}
	}
}

func (o *Orchestrator) processFrame(frame model.Frame) {
	snap := o.states.Update(frame, o.cfg.Drop.TreatDLCZeroAsSpecial)
	o.lastTimestamp = frame.Timestamp
	o.hasLastTimestamp = true

	switch o.mode {
	case model.ModeLearning:
		_ = o.engine.Observe(frame, snap)
		if !o.hasLearningStart {
			o.learningStartedAt = frame.Timestamp
			o.hasLearningStart = true
			o.learningDeadline = frame.Timestamp + float64(o.cfg.Learning.InitialLearningWindowSec)
			o.hasDeadline = true
		}
	case model.ModeShadow:
		o.detectOne(frame, snap)
	case model.ModeDetecting:
		o.detectOne(frame, snap)
	}
}

func (o *Orchestrator) detectOne(frame model.Frame, snap state.Snapshot) {
	bl, hasBaseline := o.engine.Lookup(frame.CANID)
	eff := o.cfg.Resolved(frame.CANID)

	in := detect.Input{
		Frame:             frame,
		State:             snap,
		Baseline:          bl,
		HasBaseline:       hasBaseline,
		BaselineReady:     o.baselineReady,
		Config:            eff,
		Now:               frame.Timestamp,
		MinEntropySamples: o.cfg.Learning.MinEntropySamples,
	}

	for _, alert := range o.chain.Detect(in) {
		o.alerts.Emit(alert)
	}
}

// AutoTransition switches an auto-mode orchestrator from learning to
// detecting once the learning window has elapsed (spec §6: "auto:
// learn for learning_duration then detect"). It freezes the Baseline
// Engine as part of the transition. Callers running in auto mode
// should check ReadyToDetect and call this once it reports true.
func (o *Orchestrator) AutoTransition() error {
	if o.mode != model.ModeLearning {
		return nil
	}
	if err := o.engine.Freeze(); err != nil {
		return err
	}
	o.mode = model.ModeDetecting
	o.baselineReady = true
	metrics.BaselineEntries.Set(float64(len(o.engine.All())))
	return nil
}

// ReadyToDetect reports whether an auto-mode orchestrator's learning
// window has closed and it should call AutoTransition.
func (o *Orchestrator) ReadyToDetect(now float64) bool {
	return o.mode == model.ModeLearning && o.hasDeadline && now >= o.learningDeadline
}

func (o *Orchestrator) onSourceExhausted() error {
	if o.mode == model.ModeLearning {
		if err := o.engine.Freeze(); err != nil {
			return err
		}
		o.baselineReady = true
		metrics.BaselineEntries.Set(float64(len(o.engine.All())))
	}
	return o.shutdown()
}

// onLearningWindowClosed freezes the baseline and ends the run, for
// plain "learn" mode once its window elapses (spec §6: "learn: run
// source to end-of-window, freeze baseline, exit").
func (o *Orchestrator) onLearningWindowClosed() error {
	if err := o.engine.Freeze(); err != nil {
		return err
	}
	o.baselineReady = true
	metrics.BaselineEntries.Set(float64(len(o.engine.All())))
	return o.shutdown()
}

func (o *Orchestrator) startBackgroundTicker(ctx context.Context) func() {
	evictTicker := time.NewTicker(o.evictionInterval)
	statsTicker := time.NewTicker(o.statsInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-evictTicker.C:
				select {
				case o.commands <- cmdEvict:
				default:
				}
			case <-statsTicker.C:
				select {
				case o.commands <- cmdStats:
				default:
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		evictTicker.Stop()
		statsTicker.Stop()
		close(done)
	}
}

func (o *Orchestrator) handleCommand(cmd command) {
	switch cmd {
	case cmdEvict:
		now := o.lastFrameTimestamp()
		evicted := o.states.EvictStale(now, o.cfg.Memory.EvictionAgeSec)
		evicted += o.states.CleanupIfPressure(now, o.cfg.Memory.SoftLimitIDs)
		metrics.EvictionsTotal.Add(float64(evicted))
		metrics.TrackedIDs.Set(float64(o.states.TrackedIDs()))
	case cmdStats:
		o.log.Info().Interface("stats", o.Stats()).Msg("pipeline stats")
	}
}

// lastFrameTimestamp returns the timestamp of the most recently
// processed frame, used as "now" for eviction in every run mode so an
// offline trace is evicted against stream time rather than wall-clock
// time (spec §2's deterministic-emission requirement extends to
// eviction: PerIdState.lastSeen is always a frame timestamp, so "now"
// for EvictStale must be one too). Falls back to wall-clock only
// before the first frame has been processed, when there is nothing
// to evict anyway.
func (o *Orchestrator) lastFrameTimestamp() float64 {
	if o.hasLastTimestamp {
		return o.lastTimestamp
	}
	return float64(time.Now().UnixNano()) / 1e9
}

// Stats returns a copy of the pipeline's running counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		RunID:           o.runID,
		FramesProcessed: o.framesProcessed,
		MalformedFrames: o.malformedFrames,
		SourceErrors:    o.sourceErrors,
		TrackedIDs:      o.states.TrackedIDs(),
		AlertManager:    o.alerts.Stats(),
	}
}

// shutdown flushes sinks and writes a final stats record (spec §5:
// "drain the current frame, flush all sinks, write a final stats
// record, and exit"). The current frame has already finished
// processing by the time Run observes ctx.Done or source exhaustion,
// so there is nothing in flight left to drain.
func (o *Orchestrator) shutdown() error {
	o.log.Info().Interface("final_stats", o.Stats()).Msg("pipeline shutting down")
	if err := o.alerts.Close(); err != nil {
		o.log.Warn().Err(err).Msg("error closing sinks during shutdown")
	}
	return o.source.Close()
}
