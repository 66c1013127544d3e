package baseline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// persistVersion is stamped into every saved baseline file so Load can
// refuse a file produced by an incompatible engine revision.
const persistVersion = "4.0"

type persistedByteBehavior struct {
	Kind        string `json:"kind"`
	StaticValue byte   `json:"static_value,omitempty"`
	Step        int    `json:"step,omitempty"`
	Modulus     int    `json:"modulus,omitempty"`
	Min         byte   `json:"min,omitempty"`
	Max         byte   `json:"max,omitempty"`
}

type persistedBaseline struct {
	CANID uint32 `json:"can_id"`

	IATMean    float64 `json:"iat_mean"`
	IATSigma   float64 `json:"iat_sigma"`
	IATSamples int64   `json:"iat_samples"`

	LearnedDLCs []uint8 `json:"learned_dlcs"`

	EntropyMean    float64 `json:"entropy_mean"`
	EntropySigma   float64 `json:"entropy_sigma"`
	EntropySamples int64   `json:"entropy_samples"`

	ByteBehavior [8]persistedByteBehavior `json:"byte_behavior"`

	FrameCount    uint64  `json:"frame_count"`
	LearnedPeriod float64 `json:"learned_period"`
	Trained       bool    `json:"trained"`
}

type persistedFile struct {
	Meta struct {
		Version string `json:"version"`
	} `json:"meta"`
	Baselines []persistedBaseline `json:"baselines"`
}

func toPersisted(b *IdBaseline) persistedBaseline {
	p := persistedBaseline{
		CANID:          b.CANID,
		IATMean:        b.IATMean,
		IATSigma:       b.IATSigma,
		IATSamples:     b.IATSamples,
		EntropyMean:    b.EntropyMean,
		EntropySigma:   b.EntropySigma,
		EntropySamples: b.EntropySamples,
		FrameCount:     b.FrameCount,
		LearnedPeriod:  b.LearnedPeriod,
		Trained:        b.Trained,
	}
	for dlc, seen := range b.LearnedDLCs {
		if seen {
			p.LearnedDLCs = append(p.LearnedDLCs, dlc)
		}
	}
	for i, behavior := range b.ByteBehavior {
		p.ByteBehavior[i] = persistedByteBehavior{
			Kind:        behavior.Kind.String(),
			StaticValue: behavior.StaticValue,
			Step:        behavior.Step,
			Modulus:     behavior.Modulus,
			Min:         behavior.Min,
			Max:         behavior.Max,
		}
	}
	return p
}

func fromPersisted(p persistedBaseline) *IdBaseline {
	b := &IdBaseline{
		CANID:          p.CANID,
		IATMean:        p.IATMean,
		IATSigma:       p.IATSigma,
		IATSamples:     p.IATSamples,
		LearnedDLCs:    make(map[uint8]bool, len(p.LearnedDLCs)),
		EntropyMean:    p.EntropyMean,
		EntropySigma:   p.EntropySigma,
		EntropySamples: p.EntropySamples,
		FrameCount:     p.FrameCount,
		LearnedPeriod:  p.LearnedPeriod,
		Trained:        p.Trained,
	}
	for _, dlc := range p.LearnedDLCs {
		b.LearnedDLCs[dlc] = true
	}
	for i, pb := range p.ByteBehavior {
		var kind ByteBehaviorKind
		switch pb.Kind {
		case "static":
			kind = BehaviorStatic
		case "counter":
			kind = BehaviorCounter
		case "variable":
			kind = BehaviorVariable
		case "rare":
			kind = BehaviorRare
		default:
			kind = BehaviorUnknown
		}
		b.ByteBehavior[i] = ByteBehavior{
			Kind:        kind,
			StaticValue: pb.StaticValue,
			Step:        pb.Step,
			Modulus:     pb.Modulus,
			Min:         pb.Min,
			Max:         pb.Max,
		}
		if kind == BehaviorStatic {
			b.StaticByteValues[i] = pb.StaticValue
		}
	}
	return b
}

// Save writes the frozen baseline to w as JSON (spec §6 baseline
// persistence). It is an error to Save an engine that has not frozen.
func (e *Engine) Save(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.frozen {
		return fmt.Errorf("%w: cannot save an open baseline", errNotFrozen)
	}

	out := persistedFile{}
	out.Meta.Version = persistVersion
	for _, b := range e.ids {
		out.Baselines = append(out.Baselines, toPersisted(b))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// SaveFile is a convenience wrapper around Save for a path on disk.
func (e *Engine) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating baseline file: %w", err)
	}
	defer f.Close()
	return e.Save(f)
}

// Load reads a previously-Saved baseline from r and returns a frozen
// Engine, for the "load" operation spec §6 describes.
func Load(r io.Reader) (*Engine, error) {
	var in persistedFile
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decoding baseline file: %w", err)
	}
	if in.Meta.Version != persistVersion {
		return nil, fmt.Errorf("baseline file version %q is not supported (want %q)", in.Meta.Version, persistVersion)
	}

	ids := make(map[uint32]*IdBaseline, len(in.Baselines))
	for _, p := range in.Baselines {
		ids[p.CANID] = fromPersisted(p)
	}

	e := New(0, 0, 0, 0)
	e.LoadFrozen(ids)
	return e, nil
}

// LoadFile is a convenience wrapper around Load for a path on disk.
func LoadFile(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening baseline file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
