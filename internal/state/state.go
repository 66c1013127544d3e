// Package state implements the State Manager (spec §4.1): bounded,
// per-CAN-ID tracking of inter-arrival times, payload hashes, per-byte
// history, and recent payload sequences.
package state

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/ring"
)

// Default ring capacities from spec §3.
const (
	DefaultIATHistoryCap        = 1000
	DefaultPayloadHashHistoryCap = 100
	DefaultByteHistoryCap       = 50
	DefaultSequenceBufferCap    = 20
)

// HashedPayload is a (timestamp, hash) pair, the unit the payload-hash
// history ring stores (spec §3).
type HashedPayload struct {
	Timestamp float64
	Hash      uint64
}

// PerIdState is the per-CAN-ID tracking record from spec §3.
type PerIdState struct {
	CANID uint32

	mu sync.Mutex

	hasLastTimestamp bool
	lastTimestamp    float64

	IATHistory         *ring.Buffer[float64]
	IATWelford         Welford
	PayloadHashHistory *ring.Buffer[HashedPayload]
	ByteHistory        [8]*ring.Buffer[byte]
	SequenceBuffer     *ring.Buffer[uint64]

	FrameCount uint64

	LastAlertTimes map[model.AlertType]float64

	// lastSeen is the frame timestamp of the most recently processed
	// frame for this ID, used by evict_stale (spec §4.1).
	lastSeen float64
}

// newPerIdState allocates a PerIdState with spec-default ring capacities.
func newPerIdState(canID uint32) *PerIdState {
	st := &PerIdState{
		CANID:              canID,
		IATHistory:         ring.New[float64](DefaultIATHistoryCap),
		PayloadHashHistory: ring.New[HashedPayload](DefaultPayloadHashHistoryCap),
		SequenceBuffer:     ring.New[uint64](DefaultSequenceBufferCap),
		LastAlertTimes:     make(map[model.AlertType]float64),
	}
	for i := range st.ByteHistory {
		st.ByteHistory[i] = ring.New[byte](DefaultByteHistoryCap)
	}
	return st
}

// LastTimestamp returns the timestamp of the previous frame for this ID,
// and whether one has been seen yet.
func (s *PerIdState) LastTimestamp() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTimestamp, s.hasLastTimestamp
}

// LastIAT returns the most recently recorded inter-arrival time, if any.
func (s *PerIdState) LastIAT() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IATHistory.Last()
}

// LastAlertTime returns when alertType was last emitted for this ID.
func (s *PerIdState) LastAlertTime(alertType model.AlertType) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.LastAlertTimes[alertType]
	return t, ok
}

// RecordAlertTime records that alertType fired at timestamp (spec §3
// last_alert_times). The Alert Manager's cooldown rule keeps its own
// record and does not read this one.
func (s *PerIdState) RecordAlertTime(alertType model.AlertType, timestamp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastAlertTimes[alertType] = timestamp
}

// HashPayload computes the 64-bit hash spec §4.1 requires over (dlc,
// payload bytes): collisions are tolerable because the hash is only ever
// used as an equality key within short time windows.
func HashPayload(dlc uint8, payload []byte) uint64 {
	h := xxhash.New()
	h.Write([]byte{dlc})
	h.Write(payload)
	return h.Sum64()
}

// snapshot is an immutable, lock-free view of a PerIdState taken under
// its mutex, safe for a detector to read after the State Manager hands
// it back.
type Snapshot struct {
	CANID              uint32
	LastTimestamp      float64
	HasLastTimestamp   bool
	LastIAT            float64
	HasLastIAT         bool
	IATMean            float64
	IATStdDev          float64
	IATSamples         int64
	PayloadHashHistory []HashedPayload
	ByteHistory        [8][]byte
	SequenceBuffer     []uint64
	FrameCount         uint64
	LastAlertTimes     map[model.AlertType]float64
}

// Snapshot takes a point-in-time, detector-safe copy of the state.
// Detectors never mutate State Manager state (spec §4.3 common
// contract), so handing back copies keeps that invariant mechanical
// rather than a convention to remember.
func (s *PerIdState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastIAT, hasIAT := s.IATHistory.Last()

	out := Snapshot{
		CANID:              s.CANID,
		LastTimestamp:      s.lastTimestamp,
		HasLastTimestamp:   s.hasLastTimestamp,
		LastIAT:            lastIAT,
		HasLastIAT:         hasIAT,
		IATMean:            s.IATWelford.Mean(),
		IATStdDev:          s.IATWelford.StdDev(),
		IATSamples:         s.IATWelford.Count(),
		PayloadHashHistory: s.PayloadHashHistory.Slice(),
		SequenceBuffer:     s.SequenceBuffer.Slice(),
		FrameCount:         s.FrameCount,
		LastAlertTimes:     make(map[model.AlertType]float64, len(s.LastAlertTimes)),
	}
	for i := range s.ByteHistory {
		out.ByteHistory[i] = s.ByteHistory[i].Slice()
	}
	for k, v := range s.LastAlertTimes {
		out.LastAlertTimes[k] = v
	}
	return out
}
