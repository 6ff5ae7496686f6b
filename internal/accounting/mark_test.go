package accounting

import "testing"

func TestMarkAllocatorRange(t *testing.T) {
	a := newMarkAllocator()
	mark, ok := a.allocate("42")
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if mark < MarkBase || mark > MarkMax {
		t.Fatalf("mark %d out of range [%d,%d]", mark, MarkBase, MarkMax)
	}
}

func TestMarkAllocatorCollisionFallsBackToCursor(t *testing.T) {
	a := newMarkAllocator()
	first, ok := a.allocate("session-a")
	if !ok {
		t.Fatal("first allocate failed")
	}

	// Allocating "session-a" again hashes to the slot the first allocate
	// already holds, so the allocator must take the cursor path rather
	// than reuse that slot.
	idx := int(first) - MarkBase
	if !a.inUse[idx] {
		t.Fatalf("expected slot %d marked in-use after first allocate", idx)
	}

	second, ok := a.allocate("session-a")
	if !ok {
		t.Fatal("second allocate failed")
	}
	if second == first {
		t.Fatal("expected cursor fallback to yield a distinct mark")
	}
}

func TestMarkAllocatorExhaustion(t *testing.T) {
	a := newMarkAllocator()
	seen := make(map[uint16]bool)
	for i := 0; i < markSpan; i++ {
		m, ok := a.allocate(string(rune('a' + i%26)))
		if !ok {
			t.Fatalf("allocate %d: unexpected pool-full", i)
		}
		seen[m] = true
	}
	if len(seen) != markSpan {
		t.Fatalf("got %d distinct marks, want %d", len(seen), markSpan)
	}
	if _, ok := a.allocate("overflow"); ok {
		t.Fatal("expected pool exhaustion to fail allocation")
	}
}

func TestMarkAllocatorReleaseFreesSlot(t *testing.T) {
	a := newMarkAllocator()
	for i := 0; i < markSpan; i++ {
		if _, ok := a.allocate(string(rune('a' + i%26))); !ok {
			t.Fatalf("allocate %d failed", i)
		}
	}
	a.release(MarkBase)
	if _, ok := a.allocate("after-release"); !ok {
		t.Fatal("expected allocation to succeed after release")
	}
}
