package baseline

import "testing"

func TestEntropyOfConstantPayloadIsZero(t *testing.T) {
	if got := Entropy([]byte{1, 1, 1, 1, 1, 1, 1, 1}); got != 0 {
		t.Fatalf("expected 0 entropy for constant payload, got %v", got)
	}
}

func TestEntropyOfUniformBytesIsMax(t *testing.T) {
	got := Entropy([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	if got < 2.99 || got > 3.01 {
		t.Fatalf("expected entropy ~3 bits for 8 distinct values, got %v", got)
	}
}

func TestEntropyEmptyPayloadIsZero(t *testing.T) {
	if got := Entropy(nil); got != 0 {
		t.Fatalf("expected 0 entropy for empty payload, got %v", got)
	}
}
