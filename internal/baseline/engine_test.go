package baseline

import (
	"bytes"
	"errors"
	"testing"

	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/state"
)

func observeN(t *testing.T, e *Engine, mgr *state.Manager, canID uint32, n int, payload func(i int) []byte) {
	t.Helper()
	for i := 0; i < n; i++ {
		f := model.Frame{Timestamp: float64(i) * 0.01, CANID: canID, DLC: 8, Payload: payload(i)}
		snap := mgr.Update(f, false)
		if err := e.Observe(f, snap); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
}

func TestEngineFreezeClassifiesStaticByte(t *testing.T) {
	e := New(5, 3, 3, 0)
	mgr := state.NewManager()
	observeN(t, e, mgr, 0x100, 10, func(i int) []byte {
		return []byte{0xAA, byte(i), 0, 0, 0, 0, 0, 0}
	})

	if err := e.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	b, ok := e.Lookup(0x100)
	if !ok {
		t.Fatalf("expected baseline for 0x100")
	}
	if !b.Trained {
		t.Fatalf("expected 0x100 to be trained after 10 samples (min 5)")
	}
	if b.ByteBehavior[0].Kind != BehaviorStatic || b.ByteBehavior[0].StaticValue != 0xAA {
		t.Fatalf("expected byte 0 static 0xAA, got %+v", b.ByteBehavior[0])
	}
	if b.ByteBehavior[1].Kind != BehaviorCounter || b.ByteBehavior[1].Step != 1 {
		t.Fatalf("expected byte 1 counter step 1, got %+v", b.ByteBehavior[1])
	}
}

func TestEngineUntrainedBelowMinSamples(t *testing.T) {
	e := New(50, 3, 3, 0)
	mgr := state.NewManager()
	observeN(t, e, mgr, 0x200, 2, func(i int) []byte { return []byte{1, 2, 3, 4, 5, 6, 7, 8} })

	if err := e.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	b, ok := e.Lookup(0x200)
	if !ok {
		t.Fatalf("expected baseline for 0x200 even though untrained")
	}
	if b.Trained {
		t.Fatalf("expected 0x200 to be untrained with only 2 samples (min 50)")
	}
}

func TestEngineObserveAfterFreezeIsWrongMode(t *testing.T) {
	e := New(1, 1, 1, 0)
	mgr := state.NewManager()
	observeN(t, e, mgr, 0x300, 1, func(i int) []byte { return []byte{1} })
	if err := e.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	f := model.Frame{Timestamp: 1, CANID: 0x300, DLC: 8, Payload: []byte{1}}
	snap := mgr.Update(f, false)
	err := e.Observe(f, snap)
	if !errors.Is(err, model.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode observing after freeze, got %v", err)
	}
}

func TestEngineLookupBeforeFreezeFails(t *testing.T) {
	e := New(1, 1, 1, 0)
	if _, ok := e.Lookup(0x100); ok {
		t.Fatalf("expected Lookup to fail before Freeze")
	}
}

func TestEngineAddUntrainedOnlyAffectsFrozenEngineAndNewIDs(t *testing.T) {
	e := New(1, 1, 1, 0)
	mgr := state.NewManager()
	observeN(t, e, mgr, 0x400, 5, func(i int) []byte { return []byte{9, 9, 9, 9, 9, 9, 9, 9} })
	if err := e.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	e.AddUntrained(0x500)
	b, ok := e.Lookup(0x500)
	if !ok || b.Trained {
		t.Fatalf("expected 0x500 added as untrained, got ok=%v trained=%v", ok, b.Trained)
	}

	before, _ := e.Lookup(0x400)
	e.AddUntrained(0x400)
	after, _ := e.Lookup(0x400)
	if before != after {
		t.Fatalf("expected AddUntrained to leave an existing baseline untouched")
	}
}

func TestEngineSaveLoadRoundTrip(t *testing.T) {
	e := New(3, 3, 3, 0)
	mgr := state.NewManager()
	observeN(t, e, mgr, 0x123, 6, func(i int) []byte {
		return []byte{0x10, byte(2 * i), 0, 0, 0, 0, 0, 0}
	})
	if err := e.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, ok := loaded.Lookup(0x123)
	if !ok {
		t.Fatalf("expected loaded engine to contain 0x123")
	}
	if b.ByteBehavior[0].Kind != BehaviorStatic || b.ByteBehavior[0].StaticValue != 0x10 {
		t.Fatalf("round trip lost byte 0 static classification: %+v", b.ByteBehavior[0])
	}
	if b.ByteBehavior[1].Kind != BehaviorCounter || b.ByteBehavior[1].Step != 2 {
		t.Fatalf("round trip lost byte 1 counter classification: %+v", b.ByteBehavior[1])
	}
}

func TestEngineSaveBeforeFreezeFails(t *testing.T) {
	e := New(1, 1, 1, 0)
	var buf bytes.Buffer
	if err := e.Save(&buf); err == nil {
		t.Fatalf("expected Save to fail before Freeze")
	}
}
