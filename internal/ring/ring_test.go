package ring

import "testing"

func TestBufferWrapsAtCapacity(t *testing.T) {
	b := New[int](3)
	for _, v := range []int{1, 2, 3, 4, 5} {
		b.Push(v)
	}
	if b.Len() != 3 {
		t.Fatalf("expected len 3, got %d", b.Len())
	}
	got := b.Slice()
	want := []int{3, 4, 5}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("slice mismatch: got %v want %v", got, want)
		}
	}
}

func TestBufferLastAndLastN(t *testing.T) {
	b := New[string](4)
	b.Push("a")
	b.Push("b")
	b.Push("c")

	last, ok := b.Last()
	if !ok || last != "c" {
		t.Fatalf("expected last=c, got %q ok=%v", last, ok)
	}

	lastN := b.LastN(2)
	if len(lastN) != 2 || lastN[0] != "b" || lastN[1] != "c" {
		t.Fatalf("unexpected LastN result: %v", lastN)
	}

	if n := len(b.LastN(10)); n != 3 {
		t.Fatalf("expected LastN to clamp to size 3, got %d", n)
	}
}

func TestBufferEmpty(t *testing.T) {
	b := New[int](2)
	if _, ok := b.Last(); ok {
		t.Fatalf("expected ok=false on empty buffer")
	}
	if b.Len() != 0 {
		t.Fatalf("expected len 0, got %d", b.Len())
	}
}
