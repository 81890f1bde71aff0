package vm

// Snapshot is a resumable, serializable copy of one VM instance's state:
// enough to reconstruct the heap, globals, and call chain exactly, for a
// host that wants to persist a Cancelled or CpuExhausted VM across a
// process restart, extending the suspend/resume model past a single
// process's lifetime. It intentionally excludes the constant pool and
// native registry, which the host re-supplies on restore — the same image
// bytes and the same RegisterNative calls it used the first time.
type Snapshot struct {
	InstanceID string `cbor:"instance_id"`
	Config     Config `cbor:"config"`

	Globals    []Word         `cbor:"globals"`
	HeapWords  []Word         `cbor:"heap_words"`
	HeapNext   int            `cbor:"heap_next"`
	HeapFreed  []snapshotSpan `cbor:"heap_freed"`
	HeapObjs   []int          `cbor:"heap_objects"`
	Frames     []snapshotFrame `cbor:"frames"` // innermost last
	Halted     bool           `cbor:"halted"`
	HaltValues []Word         `cbor:"halt_values,omitempty"`
}

type snapshotSpan struct {
	Start int `cbor:"start"`
	Len   int `cbor:"len"`
}

type snapshotFrame struct {
	CodeOffset int    `cbor:"code_offset"`
	PC         int    `cbor:"pc"`
	Locals     []Word `cbor:"locals"`
	Stack      []Word `cbor:"stack"` // only the live portion, 0..sp
}

// Capture builds a Snapshot of vm's current state. It does not pause or
// otherwise affect a subsequent Run/Resume call.
func (vm *VM) Capture() *Snapshot {
	it := vm.interp
	s := &Snapshot{
		InstanceID: vm.InstanceID.String(),
		Config:     it.config,
		Globals:    append([]Word(nil), it.globals...),
		HeapWords:  append([]Word(nil), it.heap.words...),
		HeapNext:   it.heap.next,
		HeapObjs:   append([]int(nil), it.heap.objects...),
		Halted:     it.halted,
		HaltValues: append([]Word(nil), it.haltValues...),
	}
	for _, sp := range it.heap.freed {
		s.HeapFreed = append(s.HeapFreed, snapshotSpan{Start: sp.start, Len: sp.len})
	}

	var chain []*Frame
	for f := it.frame; f != nil; f = f.caller {
		chain = append(chain, f)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		f := chain[i]
		s.Frames = append(s.Frames, snapshotFrame{
			CodeOffset: f.codeOffset,
			PC:         f.pc,
			Locals:     append([]Word(nil), f.locals...),
			Stack:      append([]Word(nil), f.stack[:f.sp]...),
		})
	}
	return s
}

// Restore rebuilds a running VM from a Snapshot and the same pool bytes
// used to build it originally. The caller must re-register any native
// modules before calling Run/Resume, since native handlers cannot be
// serialized.
func Restore(poolBytes []byte, snap *Snapshot) (*VM, error) {
	pool := NewPool(poolBytes)
	heap := &Heap{
		base:  heapBase,
		words: append([]Word(nil), snap.HeapWords...),
		next:  snap.HeapNext,
	}
	for _, sp := range snap.HeapFreed {
		heap.freed = append(heap.freed, freeSpan{start: sp.Start, len: sp.Len})
	}
	heap.objects = append([]int(nil), snap.HeapObjs...)

	it := newInterpreter(pool, heap, len(snap.Globals), snap.Config)
	copy(it.globals, snap.Globals)
	it.halted = snap.Halted
	it.haltValues = append([]Word(nil), snap.HaltValues...)

	var caller *Frame
	for _, sf := range snap.Frames {
		code, ok := pool.CodeObjectAt(sf.CodeOffset)
		if !ok {
			return nil, &LoadErr{msg: "snapshot references an invalid code object"}
		}
		codeBytes, ok := pool.ReadBytes(code.CodeStart, code.CodeEnd-code.CodeStart)
		if !ok {
			return nil, &LoadErr{msg: "snapshot code object body out of range"}
		}
		f := newFrame(sf.CodeOffset, code, codeBytes, nil, 0, caller)
		copy(f.locals, sf.Locals)
		copy(f.stack, sf.Stack)
		f.sp = len(sf.Stack)
		f.pc = sf.PC
		if caller != nil {
			it.callDepth++ // the entry frame is depth 0, as in a live run
		}
		caller = f
	}
	it.frame = caller

	id, err := parseOrNewUUID(snap.InstanceID)
	if err != nil {
		return nil, err
	}
	return &VM{InstanceID: id, interp: it, logger: defaultLogger().With("vm_instance", id.String())}, nil
}
