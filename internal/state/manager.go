package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/navispectra/canids/internal/model"
)

// shardCount mirrors the teacher's KeyedAggregator sharding
// (internal/engine/exactaggregator/keyed_aggregator.go), generalized
// from an fnv-hashed flow key to an xxhash-hashed CAN ID: the State
// Manager's hot path only ever touches one shard per frame, so the
// between-frame eviction task (spec §5) can lock a shard without
// contending with the frame the main loop is currently processing.
const shardCount = 256

type shard struct {
	mu     sync.Mutex
	states map[uint32]*PerIdState
}

// Manager is the State Manager: O(1) per-frame update, bounded memory
// via sharded eviction (spec §4.1).
type Manager struct {
	shards [shardCount]*shard

	mu         sync.Mutex
	trackedIDs int
}

// NewManager constructs an empty State Manager.
func NewManager() *Manager {
	m := &Manager{}
	for i := range m.shards {
		m.shards[i] = &shard{states: make(map[uint32]*PerIdState)}
	}
	return m
}

func (m *Manager) shardFor(canID uint32) *shard {
	var buf [4]byte
	buf[0] = byte(canID)
	buf[1] = byte(canID >> 8)
	buf[2] = byte(canID >> 16)
	buf[3] = byte(canID >> 24)
	idx := xxhash.Sum64(buf[:]) % uint64(shardCount)
	return m.shards[idx]
}

// Validate checks a Frame against spec §3's data-model constraints,
// returning model.ErrMalformedFrame if it is not a well-formed CAN
// frame. Validation is the State Manager's responsibility because it
// is the first stage to see every frame (spec §2).
func Validate(f model.Frame) error {
	if f.CANID > 0x1FFFFFFF {
		return fmt.Errorf("%w: can_id 0x%X exceeds 29 bits", model.ErrMalformedFrame, f.CANID)
	}
	if f.DLC > 8 {
		return fmt.Errorf("%w: dlc %d exceeds 8", model.ErrMalformedFrame, f.DLC)
	}
	if len(f.Payload) > 8 {
		return fmt.Errorf("%w: payload length %d exceeds 8", model.ErrMalformedFrame, len(f.Payload))
	}
	return nil
}

// Update implements spec §4.1's update operation: appends IAT (if a
// previous frame exists), appends the payload hash, updates byte
// history, updates the sequence buffer, increments frame_count, and
// sets last_timestamp. It returns no error and does no eviction itself
// (eviction is EvictStale and CleanupIfPressure); the caller validates
// the frame first.
func (m *Manager) Update(f model.Frame, treatDLCZeroAsSpecial bool) Snapshot {
	sh := m.shardFor(f.CANID)
	sh.mu.Lock()
	st, ok := sh.states[f.CANID]
	if !ok {
		st = newPerIdState(f.CANID)
		sh.states[f.CANID] = st
		sh.mu.Unlock()
		m.mu.Lock()
		m.trackedIDs++
		m.mu.Unlock()
	} else {
		sh.mu.Unlock()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	heartbeat := treatDLCZeroAsSpecial && f.DLC == 0

	if st.hasLastTimestamp && !heartbeat {
		iat := f.Timestamp - st.lastTimestamp
		st.IATHistory.Push(iat)
		st.IATWelford.Push(iat)
	}

	hash := HashPayload(f.DLC, f.Payload)
	st.PayloadHashHistory.Push(HashedPayload{Timestamp: f.Timestamp, Hash: hash})
	st.SequenceBuffer.Push(hash)

	for i := 0; i < 8; i++ {
		if i < len(f.Payload) {
			st.ByteHistory[i].Push(f.Payload[i])
		}
	}

	st.FrameCount++
	if !heartbeat {
		st.lastTimestamp = f.Timestamp
		st.hasLastTimestamp = true
	} else if !st.hasLastTimestamp {
		// First frame ever seen is a heartbeat: still establish a
		// baseline timestamp so later non-heartbeat IATs have
		// something to measure against.
		st.lastTimestamp = f.Timestamp
		st.hasLastTimestamp = true
	}
	st.lastSeen = f.Timestamp

	return st.Snapshot()
}

// Get returns a read-only snapshot of the tracked state for canID.
func (m *Manager) Get(canID uint32) (Snapshot, bool) {
	sh := m.shardFor(canID)
	sh.mu.Lock()
	st, ok := sh.states[canID]
	sh.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return st.Snapshot(), true
}

// raw returns the live PerIdState (not a snapshot) for internal use by
// RecordAlertTime, which the Alert Manager calls after it decides to
// emit.
func (m *Manager) raw(canID uint32) (*PerIdState, bool) {
	sh := m.shardFor(canID)
	sh.mu.Lock()
	st, ok := sh.states[canID]
	sh.mu.Unlock()
	return st, ok
}

// RecordAlertTime records PerIdState.LastAlertTimes for (canID,
// alertType) after the Alert Manager decides an alert was actually
// emitted; a no-op if canID is not tracked. The Alert Manager's cooldown
// decision reads its own bookkeeping, not this value.
func (m *Manager) RecordAlertTime(canID uint32, alertType model.AlertType, timestamp float64) {
	if st, ok := m.raw(canID); ok {
		st.RecordAlertTime(alertType, timestamp)
	}
}

// TrackedIDs returns the number of distinct CAN IDs currently tracked.
func (m *Manager) TrackedIDs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackedIDs
}

// EvictStale removes records whose last-seen timestamp is older than
// now-maxAge (spec §4.1 evict_stale), called on a cadence or on
// memory-pressure events.
func (m *Manager) EvictStale(now, maxAge float64) int {
	evicted := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for id, st := range sh.states {
			st.mu.Lock()
			stale := st.lastSeen < now-maxAge
			st.mu.Unlock()
			if stale {
				delete(sh.states, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	m.mu.Lock()
	m.trackedIDs -= evicted
	m.mu.Unlock()
	return evicted
}

// CleanupIfPressure implements spec §4.1's cleanup_if_pressure: if the
// tracked set exceeds softLimit, evicts the oldest 25% by last-seen,
// always preserving IDs observed within the last second of now.
func (m *Manager) CleanupIfPressure(now float64, softLimit int) int {
	if m.TrackedIDs() <= softLimit {
		return 0
	}

	type idAge struct {
		canID    uint32
		lastSeen float64
		shardIdx int
	}
	var all []idAge
	for i, sh := range m.shards {
		sh.mu.Lock()
		for id, st := range sh.states {
			st.mu.Lock()
			all = append(all, idAge{canID: id, lastSeen: st.lastSeen, shardIdx: i})
			st.mu.Unlock()
		}
		sh.mu.Unlock()
	}

	// Oldest-first, excluding anything seen within the last second.
	var evictable []idAge
	for _, a := range all {
		if a.lastSeen < now-1.0 {
			evictable = append(evictable, a)
		}
	}
	sort.Slice(evictable, func(i, j int) bool {
		return evictable[i].lastSeen < evictable[j].lastSeen
	})

	target := len(all) / 4
	if target > len(evictable) {
		target = len(evictable)
	}

	evicted := 0
	for i := 0; i < target; i++ {
		a := evictable[i]
		sh := m.shards[a.shardIdx]
		sh.mu.Lock()
		if _, ok := sh.states[a.canID]; ok {
			delete(sh.states, a.canID)
			evicted++
		}
		sh.mu.Unlock()
	}
	m.mu.Lock()
	m.trackedIDs -= evicted
	m.mu.Unlock()
	return evicted
}
