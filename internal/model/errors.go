package model

import "errors"

// Error taxonomy from spec §7.
var (
	// ErrMalformedFrame: a frame state.Validate rejects — a CAN ID wider
	// than 29 bits, a DLC above 8, or a payload longer than 8 bytes. A
	// payload whose length differs from the DLC is not rejected. The
	// frame is skipped, counted, and never reaches the detection core.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrConfigError: missing required field or value out of range. Fatal
	// at startup, never reached at runtime.
	ErrConfigError = errors.New("config error")

	// ErrWrongMode: internal contract violation, e.g. observing a frozen
	// baseline. Fatal — indicates a bug in the orchestrator, not the input.
	ErrWrongMode = errors.New("wrong mode")

	// ErrSourceError: frame source failure.
	ErrSourceError = errors.New("source error")

	// ErrSinkError: alert sink failure. Counted, never propagated.
	ErrSinkError = errors.New("sink error")

	// ErrMemoryPressure: memory-pressure condition. No component returns
	// it: the State Manager bounds memory by tracked-ID count
	// (memory.soft_limit_ids) and staleness eviction, and
	// memory.memory_limit_mb is not checked.
	ErrMemoryPressure = errors.New("memory pressure")
)
