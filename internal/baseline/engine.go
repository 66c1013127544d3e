package baseline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/ring"
	"github.com/navispectra/canids/internal/state"
)

// errNotFrozen is returned by Save when called on an engine still in
// its open learning phase.
var errNotFrozen = errors.New("baseline engine is not frozen")

// byteValueHistoryCap bounds how many raw byte values an accumulator
// keeps per position during the open phase, so a very long learning
// window still has O(1) per-ID memory (spec §3's ring-buffer invariant
// extended to the learning-time accumulator).
const byteValueHistoryCap = 4096

// defaultRolloverModulus is the wrap-around point counter bytes roll
// over at. New always uses it: counter_byte_params'
// max_value_before_rollover_guess is not read by the Baseline Engine.
const defaultRolloverModulus = 256

type idAccumulator struct {
	canID       uint32
	iat         state.Welford
	learnedDLCs map[uint8]bool
	entropy     state.Welford
	byteValues  [8]*ring.Buffer[byte]
	frameCount  uint64
}

func newIdAccumulator(canID uint32) *idAccumulator {
	a := &idAccumulator{
		canID:       canID,
		learnedDLCs: make(map[uint8]bool),
	}
	for i := range a.byteValues {
		a.byteValues[i] = ring.New[byte](byteValueHistoryCap)
	}
	return a
}

// Engine is the Baseline Engine: open→frozen state machine (spec §4.2).
type Engine struct {
	mu     sync.RWMutex
	frozen bool

	accum map[uint32]*idAccumulator
	ids   map[uint32]*IdBaseline

	minSamplesForStableBaseline int
	minEntropySamples           int
	minCounterSamples           int
	payloadAnalysisMinDLC       int
	rolloverModulus             int
}

// New constructs an open Baseline Engine.
func New(minSamplesForStableBaseline, minEntropySamples, minCounterSamples, payloadAnalysisMinDLC int) *Engine {
	modulus := defaultRolloverModulus
	return &Engine{
		accum:                        make(map[uint32]*idAccumulator),
		minSamplesForStableBaseline:  minSamplesForStableBaseline,
		minEntropySamples:            minEntropySamples,
		minCounterSamples:            minCounterSamples,
		payloadAnalysisMinDLC:        payloadAnalysisMinDLC,
		rolloverModulus:              modulus,
	}
}

// Observe folds one frame into the open-phase statistics for its ID
// (spec §4.2). st is the State Manager's just-updated view of this ID,
// so Observe can read state.iat_history.last() the way spec.md
// prescribes instead of recomputing the IAT itself.
func (e *Engine) Observe(f model.Frame, st state.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frozen {
		return fmt.Errorf("%w: observe called after freeze", model.ErrWrongMode)
	}

	acc, ok := e.accum[f.CANID]
	if !ok {
		acc = newIdAccumulator(f.CANID)
		e.accum[f.CANID] = acc
	}

	if st.HasLastIAT {
		acc.iat.Push(st.LastIAT)
	}
	acc.learnedDLCs[f.DLC] = true

	if int(f.DLC) >= e.payloadAnalysisMinDLC && len(f.Payload) > 0 {
		acc.entropy.Push(Entropy(f.Payload))
	}

	for i := 0; i < len(f.Payload) && i < 8; i++ {
		acc.byteValues[i].Push(f.Payload[i])
	}

	acc.frameCount++
	return nil
}

// Freeze transitions the engine from open to frozen (spec §4.2),
// finalizing every accumulated ID into a read-only IdBaseline.
func (e *Engine) Freeze() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frozen {
		return fmt.Errorf("%w: freeze called twice", model.ErrWrongMode)
	}

	ids := make(map[uint32]*IdBaseline, len(e.accum))
	for canID, acc := range e.accum {
		ids[canID] = e.finalize(acc)
	}

	e.ids = ids
	e.accum = nil
	e.frozen = true
	return nil
}

func (e *Engine) finalize(acc *idAccumulator) *IdBaseline {
	b := &IdBaseline{
		CANID:         acc.canID,
		IATMean:       acc.iat.Mean(),
		IATSigma:      acc.iat.StdDev(),
		IATSamples:    acc.iat.Count(),
		LearnedDLCs:   acc.learnedDLCs,
		EntropyMean:   acc.entropy.Mean(),
		EntropySigma:  acc.entropy.StdDev(),
		EntropySamples: acc.entropy.Count(),
		FrameCount:    acc.frameCount,
		LearnedPeriod: acc.iat.Mean(),
		Trained:       acc.frameCount >= uint64(e.minSamplesForStableBaseline),
	}
	for i := 0; i < 8; i++ {
		behavior := classifyByte(acc.byteValues[i].Slice(), e.minCounterSamples, e.rolloverModulus)
		b.ByteBehavior[i] = behavior
		if behavior.Kind == BehaviorStatic {
			b.StaticByteValues[i] = behavior.StaticValue
		}
	}
	return b
}

// Lookup returns the frozen IdBaseline for canID, if the engine is
// frozen and the ID was observed during learning (spec §4.2: "lookup
// (frozen only)").
func (e *Engine) Lookup(canID uint32) (*IdBaseline, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.frozen {
		return nil, false
	}
	b, ok := e.ids[canID]
	return b, ok
}

// Contains reports whether canID has a frozen baseline.
func (e *Engine) Contains(canID uint32) bool {
	_, ok := e.Lookup(canID)
	return ok
}

// Frozen reports whether the engine has transitioned out of the open
// learning phase.
func (e *Engine) Frozen() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frozen
}

// AddUntrained inserts canID into a frozen baseline as an untrained,
// zero-statistics entry. This is the only mutation a frozen Engine
// permits, and it never touches an existing IdBaseline's fields — it
// only ever adds a brand new map entry — so the "once frozen, an
// IdBaseline never mutates" invariant (spec §4.2) still holds for every
// ID the Baseline Engine already knew about. It backs the general-rules
// shadow-mode auto_add_to_baseline behavior (spec §4.3.d).
func (e *Engine) AddUntrained(canID uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.frozen {
		return
	}
	if _, exists := e.ids[canID]; exists {
		return
	}
	e.ids[canID] = &IdBaseline{
		CANID:       canID,
		LearnedDLCs: make(map[uint8]bool),
		Trained:     false,
	}
}

// All returns every frozen IdBaseline, for persistence (spec §6).
func (e *Engine) All() map[uint32]*IdBaseline {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[uint32]*IdBaseline, len(e.ids))
	for k, v := range e.ids {
		out[k] = v
	}
	return out
}

// LoadFrozen replaces the engine's frozen state with ids, used when
// restoring a persisted baseline (spec §6 load). The engine is marked
// frozen regardless of its prior state.
func (e *Engine) LoadFrozen(ids map[uint32]*IdBaseline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = ids
	e.accum = nil
	e.frozen = true
}
