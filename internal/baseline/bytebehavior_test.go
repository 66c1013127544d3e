package baseline

import "testing"

func TestClassifyByteRareBelowMinSamples(t *testing.T) {
	b := classifyByte([]byte{1, 2}, 3, 256)
	if b.Kind != BehaviorRare {
		t.Fatalf("expected rare with 2 samples, got %v", b.Kind)
	}
}

func TestClassifyByteVariableWhenNoStep(t *testing.T) {
	b := classifyByte([]byte{1, 5, 2, 9, 3}, 3, 256)
	if b.Kind != BehaviorVariable {
		t.Fatalf("expected variable, got %v", b.Kind)
	}
	if b.Min != 1 || b.Max != 9 {
		t.Fatalf("expected min=1 max=9, got min=%d max=%d", b.Min, b.Max)
	}
}

func TestClassifyByteCounterWrapsModulus(t *testing.T) {
	b := classifyByte([]byte{253, 254, 255, 0, 1}, 3, 256)
	if b.Kind != BehaviorCounter || b.Step != 1 {
		t.Fatalf("expected counter step 1 across wraparound, got %+v", b)
	}
}

func TestWithinCounterStepAllowsSkips(t *testing.T) {
	behavior := ByteBehavior{Kind: BehaviorCounter, Step: 1, Modulus: 256}
	if !WithinCounterStep(10, 11, behavior, 0) {
		t.Fatalf("expected exact step to be accepted")
	}
	if !WithinCounterStep(10, 13, behavior, 2) {
		t.Fatalf("expected a skip of 2 increments to be accepted with allowedSkips=2")
	}
	if WithinCounterStep(10, 13, behavior, 1) {
		t.Fatalf("expected a skip of 2 increments to be rejected with allowedSkips=1")
	}
}
