package detect

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
)

// ReplayDetector implements spec §4.3.c: fast replay, identical-payload
// repetition, and sequence replay. The sequence-replay rule needs a
// rolling map of previously observed subsequences, which is the
// detector's own bookkeeping rather than State Manager or Baseline
// Engine state — the common contract forbids mutating those, not a
// detector's private memory.
type ReplayDetector struct {
	mu          sync.Mutex
	lastSeenSeq map[uint32]map[uint64]float64 // canID -> subsequence hash -> timestamp
}

// NewReplayDetector constructs an empty ReplayDetector.
func NewReplayDetector() *ReplayDetector {
	return &ReplayDetector{lastSeenSeq: make(map[uint32]map[uint64]float64)}
}

func (d *ReplayDetector) Detect(in Input) []model.Alert {
	var out []model.Alert
	cfg := in.Config.Replay

	if a := d.checkFastReplay(in, cfg); a != nil {
		out = append(out, *a)
	}
	if a := d.checkIdenticalPayload(in, cfg); a != nil {
		out = append(out, *a)
	}
	if a := d.checkSequenceReplay(in, cfg); a != nil {
		out = append(out, *a)
	}
	return out
}

func (d *ReplayDetector) checkFastReplay(in Input, cfg config.ReplayConfig) *model.Alert {
	if !in.HasBaseline || in.Baseline == nil || in.Baseline.IATMean <= 0 {
		return nil
	}
	if !in.State.HasLastIAT {
		return nil
	}

	absoluteMinSec := cfg.AbsoluteMinIATMs / 1000.0
	factorMinSec := in.Baseline.IATMean * cfg.MinIATFactorForFastReplay
	threshold := absoluteMinSec
	if factorMinSec > threshold {
		threshold = factorMinSec
	}

	if in.State.LastIAT >= threshold {
		return nil
	}
	return &model.Alert{
		Timestamp: in.Frame.Timestamp,
		CANID:     in.Frame.CANID,
		Type:      model.AlertNonPeriodicFastReplay,
		Severity:  model.SeverityLow,
		Details:   fmt.Sprintf("iat %.6fs below fast-replay threshold %.6fs", in.State.LastIAT, threshold),
		Context:   map[string]any{"iat": in.State.LastIAT, "threshold": threshold},
	}
}

func (d *ReplayDetector) checkIdenticalPayload(in Input, cfg config.ReplayConfig) *model.Alert {
	params := cfg.IdenticalPayloadParams
	if !params.Enabled {
		return nil
	}
	history := in.State.PayloadHashHistory
	if len(history) == 0 {
		return nil
	}

	current := history[len(history)-1]
	windowStart := in.Frame.Timestamp - float64(params.TimeWindowMs)/1000.0

	count := 0
	for _, hp := range history {
		if hp.Hash == current.Hash && hp.Timestamp >= windowStart {
			count++
		}
	}

	if count < params.RepetitionThreshold {
		return nil
	}
	return &model.Alert{
		Timestamp: in.Frame.Timestamp,
		CANID:     in.Frame.CANID,
		Type:      model.AlertIdenticalPayloadRepeat,
		Severity:  model.SeverityMedium,
		Details:   fmt.Sprintf("identical payload repeated %d times within %dms", count, params.TimeWindowMs),
		Context:   map[string]any{"repetitions": count, "time_window_ms": params.TimeWindowMs},
	}
}

func (d *ReplayDetector) checkSequenceReplay(in Input, cfg config.ReplayConfig) *model.Alert {
	params := cfg.SequenceReplayParams
	if !params.Enabled {
		return nil
	}

	seq := in.State.SequenceBuffer
	if len(seq) < params.SequenceLength {
		return nil
	}
	window := seq[len(seq)-params.SequenceLength:]
	windowHash := hashSequence(window)

	d.mu.Lock()
	defer d.mu.Unlock()

	perID, ok := d.lastSeenSeq[in.Frame.CANID]
	if !ok {
		perID = make(map[uint64]float64)
		d.lastSeenSeq[in.Frame.CANID] = perID
	}

	prevSeen, seenBefore := perID[windowHash]
	perID[windowHash] = in.Frame.Timestamp

	if !seenBefore {
		return nil
	}
	age := in.Frame.Timestamp - prevSeen
	if age < params.MinIntervalBetweenSequencesSec || age > params.MaxSequenceAgeSec {
		return nil
	}

	return &model.Alert{
		Timestamp: in.Frame.Timestamp,
		CANID:     in.Frame.CANID,
		Type:      model.AlertSequenceReplay,
		Severity:  model.SeverityMedium,
		Details:   fmt.Sprintf("sequence of %d payload hashes last seen %.3fs ago", params.SequenceLength, age),
		Context:   map[string]any{"sequence_length": params.SequenceLength, "age_sec": age},
	}
}

// hashSequence collapses an ordered window of payload hashes into one
// 64-bit key for the sequence-replay rolling map.
func hashSequence(window []uint64) uint64 {
	h := xxhash.New()
	buf := make([]byte, 8)
	for _, v := range window {
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
		buf[4] = byte(v >> 32)
		buf[5] = byte(v >> 40)
		buf[6] = byte(v >> 48)
		buf[7] = byte(v >> 56)
		h.Write(buf)
	}
	return h.Sum64()
}
