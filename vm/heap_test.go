package vm

import "testing"

func TestNewObjectSlotsAreZero(t *testing.T) {
	h := NewHeap(16)
	ref, ok := h.tryAllocateSlots(4)
	if !ok {
		t.Fatal("allocation failed")
	}
	for i := 0; i < 4; i++ {
		v, kind, ok := h.GetSlot(ref, i)
		if !ok || v != 0 {
			t.Fatalf("slot %d = %v (%v), want 0", i, v, kind)
		}
	}
}

func TestSlotOutOfRange(t *testing.T) {
	h := NewHeap(16)
	ref, _ := h.tryAllocateSlots(2)
	if _, kind, ok := h.GetSlot(ref, 2); ok || kind != SlotOutOfRange {
		t.Fatalf("GetSlot(ref, 2) = (_, %v, %v), want SlotOutOfRange", kind, ok)
	}
	if kind, ok := h.SetSlot(ref, -1, 0); ok || kind != SlotOutOfRange {
		t.Fatalf("SetSlot(ref, -1, _) = (%v, %v), want SlotOutOfRange", kind, ok)
	}
}

func TestByteArrayRoundTrip(t *testing.T) {
	h := NewHeap(16)
	ref, ok := h.tryAllocateByteArray(5)
	if !ok {
		t.Fatal("allocation failed")
	}
	if n, ok := h.ByteArrayLen(ref); !ok || n != 5 {
		t.Fatalf("ByteArrayLen = %d, %v", n, ok)
	}
	data := []byte{1, 2, 3, 4, 5}
	if !h.SetByteArrayBytes(ref, data) {
		t.Fatal("SetByteArrayBytes failed")
	}
	got, ok := h.ByteArrayBytes(ref)
	if !ok || string(got) != string(data) {
		t.Fatalf("ByteArrayBytes = %v, want %v", got, data)
	}
}

func TestByteArrayIsNotASlotObject(t *testing.T) {
	h := NewHeap(16)
	ref, _ := h.tryAllocateByteArray(3)
	if !h.IsByteArray(ref) {
		t.Error("IsByteArray should be true")
	}
	if _, kind, ok := h.GetSlot(ref, 0); ok || kind != TypeViolation {
		t.Fatalf("GetSlot on byte array = (_, %v, %v), want TypeViolation", kind, ok)
	}
}

func TestIsRefClassificationIsDynamic(t *testing.T) {
	h := NewHeap(4)
	ref, _ := h.tryAllocateSlots(2)
	if !h.IsRef(ref) {
		t.Error("a freshly allocated ref should classify as a heap ref")
	}
	if h.IsRef(IntWord(3)) {
		// 3 is odd, so it is a tagged pool ref, never a heap ref.
		t.Error("odd integer should never classify as a heap ref")
	}
	if h.IsRef(0) {
		t.Error("word 0 is below heap_base and should not classify as a ref")
	}
}

func TestAllocationExhaustsAndReuses(t *testing.T) {
	h := NewHeap(3) // room for exactly one 2-slot object (1 header + 2 slots)
	ref1, ok := h.tryAllocateSlots(2)
	if !ok {
		t.Fatal("first allocation should succeed")
	}
	if _, ok := h.tryAllocateSlots(2); ok {
		t.Fatal("second allocation should fail: heap is full")
	}
	idx := h.index(ref1)
	h.free(idx, h.objectSizeAt(idx))
	if _, ok := h.tryAllocateSlots(2); !ok {
		t.Fatal("allocation should succeed once the old object is freed")
	}
}
