// Package alertmgr implements the Alert Manager (spec §4.4): severity
// classification was already assigned by the detector that raised the
// alert, so this package's job is throttling, cooldown, and
// severity→sink routing.
package alertmgr

import (
	"math"
	"sync"

	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/metrics"
	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/state"
)

// Stats is a periodic snapshot of the Alert Manager's counters, for the
// stats tick spec §4.4 describes ("overflow increments a dropped-alert
// counter reported on a periodic stats tick").
type Stats struct {
	Emitted       uint64
	DroppedByID   uint64
	DroppedGlobal uint64
	Suppressed    uint64 // cooldown suppression
	SinkErrors    uint64
}

// secondBucket is a discrete, second-aligned counting window (spec
// §4.4: "throttle buckets are second-aligned"). It counts against the
// frame timestamp that produced the alert, not wall-clock time, so an
// offline trace replayed far faster (or slower) than real time is
// throttled against the stream's own clock rather than against however
// fast this process happens to read frames (spec §2's "deterministic
// emission" requirement).
type secondBucket struct {
	windowStart int64
	count       int
}

// allow reports whether one more event may be admitted at timestamp ts
// under the given per-second limit, advancing the window first if ts
// has moved into a new second.
func (b *secondBucket) allow(ts float64, limit float64) bool {
	sec := int64(math.Floor(ts))
	if b.windowStart != sec {
		b.windowStart = sec
		b.count = 0
	}
	if float64(b.count) >= limit {
		return false
	}
	b.count++
	return true
}

// Manager is the Alert Manager.
type Manager struct {
	states *state.Manager
	sinks  map[string]model.Sink
	cfg    *config.Config

	mu          sync.Mutex
	globalLimit secondBucket
	perIDLimit  map[string]*secondBucket // keyed by canIDKey+alertType

	// lastAlertTime is the Alert Manager's own cooldown bookkeeping,
	// keyed by the same bucketKey as perIDLimit. It is authoritative for
	// withinCooldown: the Alert Manager must be able to decide whether an
	// alert is on cooldown independent of whether the State Manager has
	// already seen a frame for that CAN ID (spec §4.4's cooldown is the
	// Alert Manager's concern, not the State Manager's).
	lastAlertTime map[string]float64

	emitted       uint64
	droppedByID   uint64
	droppedGlobal uint64
	suppressed    uint64
	sinkErrors    uint64
}

// New constructs an Alert Manager. sinks maps a routing name
// ("console", "text_log", "json_log", "clickhouse", ...) to the Sink
// that name routes to; a name absent from sinks is simply skipped.
func New(cfg *config.Config, states *state.Manager, sinks map[string]model.Sink) *Manager {
	return &Manager{
		states:        states,
		sinks:         sinks,
		cfg:           cfg,
		perIDLimit:    make(map[string]*secondBucket),
		lastAlertTime: make(map[string]float64),
	}
}

func bucketKey(canID uint32, alertType model.AlertType) string {
	return config.CANIDKey(canID) + "|" + string(alertType)
}

func (m *Manager) bucketFor(canID uint32, alertType model.AlertType) *secondBucket {
	key := bucketKey(canID, alertType)
	b, ok := m.perIDLimit[key]
	if !ok {
		b = &secondBucket{}
		m.perIDLimit[key] = b
	}
	return b
}

// Emit applies cooldown, throttling, and routes a.Emit is safe to call
// from the single-threaded pipeline loop between frames (spec §5).
func (m *Manager) Emit(a model.Alert) {
	eff := m.cfg.Resolved(a.CANID)

	m.mu.Lock()
	switch {
	case m.withinCooldownLocked(a):
		m.suppressed++
		m.mu.Unlock()
		metrics.AlertsSuppressed.WithLabelValues(string(a.Type)).Inc()
		return
	// Check the per-ID bucket before committing a global-bucket slot: a
	// spammy ID that's already over its own per-ID cap must not also
	// consume budget from the shared global bucket, or it starves other
	// IDs' alerts out of the global cap too.
	case !m.bucketFor(a.CANID, a.Type).allow(a.Timestamp, eff.Throttle.MaxAlertsPerIDPerSec):
		m.droppedByID++
		m.mu.Unlock()
		metrics.AlertsDropped.WithLabelValues("per_id").Inc()
		return
	case !m.globalLimit.allow(a.Timestamp, eff.Throttle.GlobalMaxAlertsPerSec):
		m.droppedGlobal++
		m.mu.Unlock()
		metrics.AlertsDropped.WithLabelValues("global").Inc()
		return
	}

	m.lastAlertTime[bucketKey(a.CANID, a.Type)] = a.Timestamp
	m.emitted++
	m.mu.Unlock()

	// Best-effort mirror onto PerIdState.LastAlertTimes (spec §3): this
	// is informational only and a no-op if the State Manager has not
	// yet seen this CAN ID, since m.lastAlertTime above is what
	// withinCooldownLocked actually reads.
	m.states.RecordAlertTime(a.CANID, a.Type, a.Timestamp)

	metrics.AlertsEmitted.WithLabelValues(string(a.Type), severityName(a.Severity)).Inc()
	m.route(a)
}

func (m *Manager) withinCooldownLocked(a model.Alert) bool {
	eff := m.cfg.Resolved(a.CANID)
	cooldownSec := eff.Throttle.CooldownMs / 1000.0
	if cooldownSec <= 0 {
		return false
	}
	last, ok := m.lastAlertTime[bucketKey(a.CANID, a.Type)]
	if !ok {
		return false
	}
	return a.Timestamp-last < cooldownSec
}

func severityName(s model.Severity) string {
	switch s {
	case model.SeverityLow:
		return "low"
	case model.SeverityMedium:
		return "medium"
	case model.SeverityHigh:
		return "high"
	case model.SeverityCritical:
		return "critical"
	default:
		return "low"
	}
}

func (m *Manager) route(a model.Alert) {
	names := m.cfg.Sinks.Routing[severityName(a.Severity)]
	for _, name := range names {
		sink, ok := m.sinks[name]
		if !ok {
			continue
		}
		if err := sink.Write(a); err != nil {
			m.mu.Lock()
			m.sinkErrors++
			m.mu.Unlock()
			metrics.SinkErrors.WithLabelValues(name).Inc()
		}
	}
}

// Stats returns a copy of the Alert Manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Emitted:       m.emitted,
		DroppedByID:   m.droppedByID,
		DroppedGlobal: m.droppedGlobal,
		Suppressed:    m.suppressed,
		SinkErrors:    m.sinkErrors,
	}
}

// Close flushes and closes every configured sink, for graceful shutdown
// (spec §5: "flush all sinks ... and exit").
func (m *Manager) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if closer, ok := sink.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
