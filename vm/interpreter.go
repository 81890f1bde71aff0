package vm

import "sync/atomic"

// Interpreter owns the pieces of one VM instance the bytecode loop touches
// directly: the pool, the heap, globals, the native registry, resource
// caps, and the current call chain. It is not exported; VM (vm.go) is the
// host-facing wrapper.
type Interpreter struct {
	pool    *Pool
	heap    *Heap
	globals []Word
	natives *NativeRegistry
	config  Config

	frame     *Frame
	callDepth int

	halted     bool
	haltValues []Word
	lastFault  *Fault

	pins    map[int]Word
	nextPin int

	cancelRequested atomic.Bool
}

func newInterpreter(pool *Pool, heap *Heap, globalCount int, config Config) *Interpreter {
	return &Interpreter{
		pool:    pool,
		heap:    heap,
		globals: make([]Word, globalCount),
		natives: NewNativeRegistry(),
		config:  config,
		pins:    make(map[int]Word),
	}
}

// start builds the initial frame for the entry point named by mainRef, a
// tagged pool reference to a zero-argument code object.
func (it *Interpreter) start(mainRef Word) error {
	if !mainRef.IsPoolRef() {
		return &LoadErr{msg: "main_function_offset is not a valid code reference"}
	}
	offset := mainRef.PoolByteOffset()
	code, ok := it.pool.CodeObjectAt(offset)
	if !ok {
		return &LoadErr{msg: "main_function_offset does not name a valid code object"}
	}
	codeBytes, ok := it.pool.ReadBytes(code.CodeStart, code.CodeEnd-code.CodeStart)
	if !ok {
		return &LoadErr{msg: "main code object body is out of range"}
	}
	it.frame = newFrame(offset, code, codeBytes, nil, 0, nil)
	return nil
}

// cancel requests that the next instruction boundary suspend execution
// with StatusCancelled. Safe to call from another goroutine while run is
// in progress.
func (it *Interpreter) cancel() {
	it.cancelRequested.Store(true)
}

// run executes instructions until the VM halts, the instruction budget is
// exhausted, cancellation is observed, or a fault is raised. It is safe to
// call again after CpuExhausted or Cancelled; it is a no-op returning the
// prior result after Halted or Faulted.
func (it *Interpreter) run() (result Result) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(fault)
			if !ok {
				panic(r)
			}
			result = Result{Status: StatusFaulted, Fault: &Fault{Kind: f.kind, Trace: it.trace()}}
			it.lastFault = result.Fault
		}
	}()

	if it.halted {
		return Result{Status: StatusHalted, Values: it.haltValues}
	}
	if it.lastFault != nil {
		return Result{Status: StatusFaulted, Fault: it.lastFault}
	}

	budget := it.config.InstructionBudget
	executed := 0
	for {
		if it.cancelRequested.CompareAndSwap(true, false) {
			return Result{Status: StatusCancelled}
		}
		if budget > 0 && executed >= budget {
			return Result{Status: StatusCpuExhausted}
		}
		executed++

		if done, values := it.step(); done {
			it.halted = true
			it.haltValues = values
			return Result{Status: StatusHalted, Values: values}
		}
	}
}

func (it *Interpreter) trace() []FrameSnapshot {
	var trace []FrameSnapshot
	for f := it.frame; f != nil; f = f.caller {
		trace = append(trace, f.snapshot())
	}
	return trace
}

// step decodes and executes one instruction, returning (true, values) if
// it was a RET that unwound the bottom frame.
func (it *Interpreter) step() (bool, []Word) {
	f := it.frame
	instr := decodeAt(f.codeBytes, f.pc)
	f.pc = instr.nextPC

	switch instr.opcode {

	case OpNop:
		// no effect

	case OpBreak:
		it.collect()

	case OpLds:
		i := f.Pop()
		r := f.Pop()
		f.Push(it.getSlot(r, int(i.AsInt())))

	case OpSts:
		v := f.Pop()
		i := f.Pop()
		r := f.Pop()
		it.setSlot(r, int(i.AsInt()), v)

	case OpIf:
		x := f.Pop()
		if x == 0 {
			skip := decodeAt(f.codeBytes, f.pc)
			f.pc = skip.nextPC
		}

	case OpNew:
		nInit := f.Pop()
		nSlots := f.Pop()
		it.doNew(f, int(nSlots.AsInt()), int(nInit.AsInt()))

	case OpCall:
		argc := f.Pop()
		callee := f.Pop()
		it.doCall(f, int(argc.AsInt()), callee)

	case OpSize:
		r := f.Pop()
		f.Push(it.doSize(r))

	case OpRet:
		n := f.Pop()
		return it.doRet(f, int(n.AsInt()))

	case OpLdImm:
		f.Push(IntWord(instr.n1))

	case OpLdc:
		f.Push(PoolRefFromByteOffset(int(instr.n1) * wordBytes))

	case OpLdsN:
		r := f.Pop()
		f.Push(it.getSlot(r, int(instr.n1)))

	case OpStsN:
		v := f.Pop()
		r := f.Pop()
		it.setSlot(r, int(instr.n1), v)

	case OpLdLocal:
		f.Push(f.Local(int(instr.n1)))

	case OpStLocal:
		f.SetLocal(int(instr.n1), f.Pop())

	case OpLdGlobal:
		f.Push(it.readGlobal(int(instr.n1)))

	case OpStGlobal:
		it.writeGlobal(int(instr.n1), f.Pop())

	case OpUnary:
		x := f.Pop()
		v, kind := unaryOp(Word(instr.n1), x)
		if kind != 0 {
			raise(kind)
		}
		f.Push(v)

	case OpBinary:
		b := f.Pop()
		a := f.Pop()
		v, kind := binaryOp(Word(instr.n1), a, b)
		if kind != 0 {
			raise(kind)
		}
		f.Push(v)

	case OpCallN:
		callee := f.Pop()
		it.doCall(f, int(instr.n1), callee)

	case OpRetN:
		return it.doRet(f, int(instr.n1))

	case OpJump:
		target := int(instr.n1)
		if target < 0 || target > len(f.codeBytes) {
			raise(InvalidJump)
		}
		f.pc = target

	case OpNewNN:
		it.doNew(f, int(instr.n1), int(instr.n2))

	case OpSys:
		it.doSys(f, int(instr.n1), int(instr.n2))

	default:
		raise(InvalidOpcode)
	}

	return false, nil
}

func (it *Interpreter) doNew(f *Frame, nSlots, nInit int) {
	if nInit < 0 || nInit > nSlots {
		raise(TypeViolation)
	}
	vals := f.PopN(nInit)
	ref := it.allocSlotsOrFault(nSlots)
	for i, v := range vals {
		it.heap.SetSlot(ref, i, v)
	}
	f.Push(ref)
}

func (it *Interpreter) doCall(caller *Frame, argc int, callee Word) {
	if !callee.IsPoolRef() {
		raise(CallNonFunction)
	}
	offset := callee.PoolByteOffset()
	code, ok := it.pool.CodeObjectAt(offset)
	if !ok {
		raise(CallNonFunction)
	}
	if it.config.MaxCallDepth > 0 && it.callDepth >= it.config.MaxCallDepth {
		raise(StackOverflow)
	}
	args := caller.PopN(argc)
	codeBytes, ok := it.pool.ReadBytes(code.CodeStart, code.CodeEnd-code.CodeStart)
	if !ok {
		raise(InvalidCode)
	}
	it.callDepth++
	it.frame = newFrame(offset, code, codeBytes, args, 0, caller)
}

func (it *Interpreter) doRet(f *Frame, n int) (bool, []Word) {
	vals := f.PopN(n)
	caller := f.caller
	it.callDepth--
	if caller == nil {
		return true, vals
	}
	for _, v := range vals {
		caller.Push(v)
	}
	it.frame = caller
	return false, nil
}

func (it *Interpreter) doSize(r Word) Word {
	if r.IsPoolRef() {
		n, ok := it.pool.FrozenSlotCount(r.PoolByteOffset())
		if !ok {
			raise(InvalidPoolRef)
		}
		return IntWord(SWord(n))
	}
	n, ok := it.heap.SlotCount(r)
	if !ok {
		if !it.heap.IsRef(r) {
			raise(InvalidHeapRef)
		}
		raise(TypeViolation)
	}
	return IntWord(SWord(n))
}

func (it *Interpreter) doSys(f *Frame, moduleIndex, funcIndex int) {
	fn, ok := it.natives.lookup(moduleIndex, funcIndex)
	if !ok {
		raise(BadNativeIndex)
	}
	args := f.PopN(fn.ArityIn)
	c := &Cap{it: it}
	results := fn.Handler(c, args)
	if len(results) != fn.ArityOut {
		raise(BadNativeArity)
	}
	for _, r := range results {
		f.Push(r)
	}
}

// getSlot and setSlot dispatch slot access across both frozen (pool) and
// heap objects. LDS/STS accept either because a frozen object is the same
// logical shape as a heap object: both are a flat array of slots addressed
// by index.
func (it *Interpreter) getSlot(r Word, i int) Word {
	if r.IsPoolRef() {
		offset := r.PoolByteOffset()
		if it.pool.IsFrozenByteArray(offset) {
			raise(TypeViolation)
		}
		v, ok := it.pool.FrozenSlot(offset, i)
		if !ok {
			raise(SlotOutOfRange)
		}
		return v
	}
	v, kind, ok := it.heap.GetSlot(r, i)
	if !ok {
		raise(kind)
	}
	return v
}

func (it *Interpreter) setSlot(r Word, i int, v Word) {
	if r.IsPoolRef() {
		raise(WriteToFrozen)
	}
	kind, ok := it.heap.SetSlot(r, i, v)
	if !ok {
		raise(kind)
	}
}

func (it *Interpreter) readGlobal(i int) Word {
	if i < 0 || i >= len(it.globals) {
		raise(InvalidGlobal)
	}
	return it.globals[i]
}

func (it *Interpreter) writeGlobal(i int, v Word) {
	if i < 0 || i >= len(it.globals) {
		raise(InvalidGlobal)
	}
	it.globals[i] = v
}

// hostReadGlobal and hostWriteGlobal are the non-panicking forms VM's host
// API uses directly, outside the run loop's recover boundary.
func (it *Interpreter) hostReadGlobal(i int) (Word, bool) {
	if i < 0 || i >= len(it.globals) {
		return 0, false
	}
	return it.globals[i], true
}

func (it *Interpreter) hostWriteGlobal(i int, v Word) bool {
	if i < 0 || i >= len(it.globals) {
		return false
	}
	it.globals[i] = v
	return true
}

func (it *Interpreter) allocSlotsOrFault(n int) Word {
	ref, ok := it.heap.tryAllocateSlots(n)
	if !ok {
		it.collect()
		ref, ok = it.heap.tryAllocateSlots(n)
	}
	if !ok {
		raise(OutOfMemory)
	}
	return ref
}

func (it *Interpreter) allocByteArrayOrFault(n int) Word {
	ref, ok := it.heap.tryAllocateByteArray(n)
	if !ok {
		it.collect()
		ref, ok = it.heap.tryAllocateByteArray(n)
	}
	if !ok {
		raise(OutOfMemory)
	}
	return ref
}

func (it *Interpreter) collect() {
	it.heap.Collect(it.roots())
}

// roots enumerates every GC root: globals, then every frame in the call
// chain (locals, then the live operand stack), then any native-module
// pins.
func (it *Interpreter) roots() []Word {
	roots := make([]Word, 0, len(it.globals)+len(it.pins))
	roots = append(roots, it.globals...)
	for f := it.frame; f != nil; f = f.caller {
		roots = append(roots, f.locals...)
		roots = append(roots, f.stack[:f.sp]...)
	}
	for _, w := range it.pins {
		roots = append(roots, w)
	}
	return roots
}

func (it *Interpreter) pin(ref Word) int {
	token := it.nextPin
	it.nextPin++
	it.pins[token] = ref
	return token
}

func (it *Interpreter) unpin(token int) {
	delete(it.pins, token)
}

func unaryOp(sel Word, x Word) (Word, ErrorKind) {
	switch sel {
	case UnaryNot:
		if x == 0 {
			return IntWord(1), 0
		}
		return IntWord(0), 0
	case UnaryNeg:
		return IntWord(-x.AsInt()), 0
	case UnaryInv:
		return ^x, 0
	default:
		return 0, InvalidOpcode
	}
}

func binaryOp(sel Word, a, b Word) (Word, ErrorKind) {
	ai, bi := a.AsInt(), b.AsInt()
	shift := uint(b % Word(WordBits))
	switch sel {
	case BinAdd:
		return IntWord(ai + bi), 0
	case BinSub:
		return IntWord(ai - bi), 0
	case BinMul:
		return IntWord(ai * bi), 0
	case BinDiv:
		if bi == 0 {
			return 0, DivByZero
		}
		return IntWord(ai / bi), 0
	case BinMod:
		if bi == 0 {
			return 0, DivByZero
		}
		return IntWord(ai % bi), 0
	case BinEq:
		if a == b {
			return IntWord(1), 0
		}
		return IntWord(0), 0
	case BinLt:
		if ai < bi {
			return IntWord(1), 0
		}
		return IntWord(0), 0
	case BinLe:
		if ai <= bi {
			return IntWord(1), 0
		}
		return IntWord(0), 0
	case BinOr:
		return a | b, 0
	case BinAnd:
		return a & b, 0
	case BinXor:
		return a ^ b, 0
	case BinLsl:
		return a << shift, 0
	case BinLsr:
		return a >> shift, 0
	case BinAsr:
		return IntWord(ai >> shift), 0
	default:
		return 0, InvalidOpcode
	}
}
