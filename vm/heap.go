package vm

// Object header layout, shared between heap objects (heap.go) and frozen
// pool objects (pool.go): a single header word holds slot-count-minus-one
// in the low 6 bits (so 1..64 slots fit), a byte-array flag at bit 7, and
// (heap objects only) a GC mark bit at bit 8.
const (
	hdrSlotCountMask Word = 0x3f
	hdrByteArrayBit  Word = 1 << 7
	hdrMarkBit       Word = 1 << 8
)

const (
	minObjectSlots = 1
	maxObjectSlots = 64
)

// Heap is a bump-allocated arena of slot-words. It never moves or
// compacts objects: mwrt uses the simpler, address-stable non-compacting
// mark-sweep design, since address stability makes the rest of the
// runtime considerably simpler to keep correct under tight memory, and a
// compacting collector is not required for correctness here.
//
// Heap references are Words of the form base + 2*index, where index names
// the header word of an object in h.words; the factor of two keeps bit 0
// clear, so a heap reference never carries the pool-reference tag (see
// IsRef). base is
// added so that small integer literals a guest program pushes rarely
// alias a valid heap address by accident, though this aliasing is only
// ever a matter of degree, not something the runtime can rule out for a
// misbehaving compiler.
type Heap struct {
	base    Word
	words   []Word
	next    int   // bump pointer: index into words of the next free header slot
	freed   []freeSpan
	objects []int // start indices of currently live objects, in allocation order
}

type freeSpan struct {
	start, len int
}

// objectSizeAt returns the total word size of the object whose header word
// lives at h.words[idx].
func (h *Heap) objectSizeAt(idx int) int {
	hdr := h.words[idx]
	if hdr&hdrByteArrayBit != 0 {
		n := int(h.words[idx+1])
		return 2 + (n+wordBytes-1)/wordBytes
	}
	return 1 + int(hdr&hdrSlotCountMask) + 1
}

const heapBase Word = 1 << 16

// NewHeap allocates a heap arena of the given size in words.
func NewHeap(sizeWords int) *Heap {
	return &Heap{
		base:  heapBase,
		words: make([]Word, sizeWords),
	}
}

// SizeWords returns the heap's total capacity in words.
func (h *Heap) SizeWords() int {
	return len(h.words)
}

// IsRef reports whether w, interpreted as an untagged word, names an
// address inside this heap's current extent. Classification is dynamic:
// it depends only on the heap's configured base and size, not on any
// separate type tag.
func (h *Heap) IsRef(w Word) bool {
	if w.IsPoolRef() {
		return false
	}
	if w < h.base {
		return false
	}
	idx := int((w - h.base) >> 1)
	return idx < len(h.words)
}

func (h *Heap) index(ref Word) int {
	return int((ref - h.base) >> 1)
}

// RefFromIndex builds a heap reference word from a header-word index.
func (h *Heap) RefFromIndex(idx int) Word {
	return h.base + Word(idx)<<1
}

func (h *Heap) header(ref Word) (idx int, hdr Word, ok bool) {
	if !h.IsRef(ref) {
		return 0, 0, false
	}
	idx = h.index(ref)
	return idx, h.words[idx], true
}

// SlotCount returns the slot count of the heap object at ref.
func (h *Heap) SlotCount(ref Word) (int, bool) {
	_, hdr, ok := h.header(ref)
	if !ok || hdr&hdrByteArrayBit != 0 {
		return 0, false
	}
	return int(hdr&hdrSlotCountMask) + 1, true
}

// IsByteArray reports whether the heap object at ref is a byte-array
// variant.
func (h *Heap) IsByteArray(ref Word) bool {
	_, hdr, ok := h.header(ref)
	return ok && hdr&hdrByteArrayBit != 0
}

// GetSlot reads slot i of the heap object at ref.
func (h *Heap) GetSlot(ref Word, i int) (Word, ErrorKind, bool) {
	idx, hdr, ok := h.header(ref)
	if !ok {
		return 0, InvalidHeapRef, false
	}
	if hdr&hdrByteArrayBit != 0 {
		return 0, TypeViolation, false
	}
	n := int(hdr&hdrSlotCountMask) + 1
	if i < 0 || i >= n {
		return 0, SlotOutOfRange, false
	}
	return h.words[idx+1+i], 0, true
}

// SetSlot writes v into slot i of the heap object at ref.
func (h *Heap) SetSlot(ref Word, i int, v Word) (ErrorKind, bool) {
	idx, hdr, ok := h.header(ref)
	if !ok {
		return InvalidHeapRef, false
	}
	if hdr&hdrByteArrayBit != 0 {
		return TypeViolation, false
	}
	n := int(hdr&hdrSlotCountMask) + 1
	if i < 0 || i >= n {
		return SlotOutOfRange, false
	}
	h.words[idx+1+i] = v
	return 0, true
}

// ByteArrayLen returns the byte length of a byte-array object.
func (h *Heap) ByteArrayLen(ref Word) (int, bool) {
	idx, hdr, ok := h.header(ref)
	if !ok || hdr&hdrByteArrayBit == 0 {
		return 0, false
	}
	return int(h.words[idx+1]), true
}

// ByteArrayBytes returns a mutable view of a byte-array object's payload,
// for native-module use only: byte-arrays must not be reached through
// LDS/STS.
func (h *Heap) ByteArrayBytes(ref Word) ([]byte, bool) {
	idx, hdr, ok := h.header(ref)
	if !ok || hdr&hdrByteArrayBit == 0 {
		return nil, false
	}
	n := int(h.words[idx+1])
	payloadWords := (n + wordBytes - 1) / wordBytes
	if idx+2+payloadWords > len(h.words) {
		return nil, false
	}
	buf := make([]byte, payloadWords*wordBytes)
	for i := 0; i < payloadWords; i++ {
		w := h.words[idx+2+i]
		for b := 0; b < wordBytes; b++ {
			buf[i*wordBytes+b] = byte(w >> (8 * b))
		}
	}
	return buf[:n], true
}

// SetByteArrayBytes overwrites a byte-array object's payload in place.
// len(data) must equal the object's declared byte length.
func (h *Heap) SetByteArrayBytes(ref Word, data []byte) bool {
	idx, hdr, ok := h.header(ref)
	if !ok || hdr&hdrByteArrayBit == 0 {
		return false
	}
	n := int(h.words[idx+1])
	if len(data) != n {
		return false
	}
	payloadWords := (n + wordBytes - 1) / wordBytes
	for i := 0; i < payloadWords; i++ {
		var w Word
		for b := wordBytes - 1; b >= 0; b-- {
			pos := i*wordBytes + b
			var byteVal byte
			if pos < n {
				byteVal = data[pos]
			}
			w = w<<8 | Word(byteVal)
		}
		h.words[idx+2+i] = w
	}
	return true
}

// tryAllocateSlots bump-allocates a slot object of n slots, zeroed. It does
// not trigger GC; callers (the interpreter, via allocSlotsOrFault) retry
// once after a collection themselves.
func (h *Heap) tryAllocateSlots(n int) (Word, bool) {
	if n < minObjectSlots || n > maxObjectSlots {
		return 0, false
	}
	total := 1 + n
	idx, ok := h.reserve(total)
	if !ok {
		return 0, false
	}
	h.words[idx] = Word(n-1) & hdrSlotCountMask
	for i := 1; i <= n; i++ {
		h.words[idx+i] = 0
	}
	h.objects = append(h.objects, idx)
	return h.RefFromIndex(idx), true
}

// tryAllocateByteArray bump-allocates a byte-array object of n bytes,
// zeroed.
func (h *Heap) tryAllocateByteArray(n int) (Word, bool) {
	if n < 0 {
		return 0, false
	}
	payloadWords := (n + wordBytes - 1) / wordBytes
	total := 2 + payloadWords
	idx, ok := h.reserve(total)
	if !ok {
		return 0, false
	}
	h.words[idx] = hdrByteArrayBit
	h.words[idx+1] = Word(n)
	for i := 0; i < payloadWords; i++ {
		h.words[idx+2+i] = 0
	}
	h.objects = append(h.objects, idx)
	return h.RefFromIndex(idx), true
}

// reserve finds total contiguous free words, preferring the free list
// before falling back to the bump pointer.
func (h *Heap) reserve(total int) (int, bool) {
	for i, span := range h.freed {
		if span.len >= total {
			idx := span.start
			if span.len == total {
				h.freed = append(h.freed[:i], h.freed[i+1:]...)
			} else {
				h.freed[i] = freeSpan{start: span.start + total, len: span.len - total}
			}
			return idx, true
		}
	}
	if h.next+total > len(h.words) {
		return 0, false
	}
	idx := h.next
	h.next += total
	return idx, true
}

// liveObjects returns the start index of every currently allocated object,
// in allocation order, from the same bookkeeping list the collector's sweep
// phase (gc.go) walks instead of the raw arena, since freed spans no longer
// hold a valid header to size themselves by.
func (h *Heap) liveObjects() []int {
	return h.objects
}

// free reclaims the span at idx (whose size is size words) onto the free
// list, for reuse by later allocations.
func (h *Heap) free(idx, size int) {
	h.freed = append(h.freed, freeSpan{start: idx, len: size})
}
