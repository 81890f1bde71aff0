package vm

import "testing"

func TestNativeRegistryRegisterAndLookup(t *testing.T) {
	r := NewNativeRegistry()
	idx := r.Register(NativeModule{
		Name: "math",
		Functions: []NativeFunc{
			{Name: "double", ArityIn: 1, ArityOut: 1, Handler: func(c *Cap, args []Word) []Word {
				return []Word{IntWord(args[0].AsInt() * 2)}
			}},
		},
	})
	if idx != 0 {
		t.Fatalf("Register returned index %d, want 0", idx)
	}
	fn, ok := r.lookup(0, 0)
	if !ok || fn.Name != "double" {
		t.Fatalf("lookup(0,0) = %+v, %v", fn, ok)
	}
	if _, ok := r.lookup(1, 0); ok {
		t.Error("lookup on unregistered module index should fail")
	}
	if _, ok := r.lookup(0, 5); ok {
		t.Error("lookup on out-of-range function index should fail")
	}
}

// SYS end to end: LD #21; SYS(module 0, func 0) "double"; RET 1 -> [42].
func TestSysCallsNativeHandler(t *testing.T) {
	code := cat(
		i1(OpLdImm, 21),
		i2(OpSys, 0, 0),
		i1(OpRetN, 1),
	)
	var pb poolBuilder
	main := pb.addCode(0, 2, code)
	img := buildImage(0, main, pb.buf)

	inst := mustVM(t, img, testConfig(64, 0, 8))
	inst.RegisterNative(NativeModule{
		Name: "math",
		Functions: []NativeFunc{
			{Name: "double", ArityIn: 1, ArityOut: 1, Handler: func(c *Cap, args []Word) []Word {
				return []Word{IntWord(args[0].AsInt() * 2)}
			}},
		},
	})

	result := inst.Run()
	if result.Status != StatusHalted {
		t.Fatalf("status = %v, fault = %+v", result.Status, result.Fault)
	}
	if len(result.Values) != 1 || result.Values[0].AsInt() != 42 {
		t.Fatalf("values = %v, want [42]", result.Values)
	}
}

// A native handler that allocates, pins across a second allocation, and
// reads back through the pin — exercising Cap.Allocate/Pin/Unpin together.
func TestSysAllocatePinAndUnpin(t *testing.T) {
	code := cat(
		i2(OpSys, 0, 0),
		i1(OpRetN, 1),
	)
	var pb poolBuilder
	main := pb.addCode(0, 2, code)
	img := buildImage(0, main, pb.buf)

	inst := mustVM(t, img, testConfig(64, 0, 8))
	inst.RegisterNative(NativeModule{
		Name: "alloctest",
		Functions: []NativeFunc{
			{Name: "run", ArityIn: 0, ArityOut: 1, Handler: func(c *Cap, args []Word) []Word {
				first := c.Allocate(2)
				token := c.Pin(first)
				second := c.Allocate(2) // may trigger GC; first must survive via the pin
				c.Unpin(token)
				c.SetSlot(first, 0, IntWord(99))
				_ = second
				return []Word{c.GetSlot(first, 0)}
			}},
		},
	})

	result := inst.Run()
	if result.Status != StatusHalted {
		t.Fatalf("status = %v, fault = %+v", result.Status, result.Fault)
	}
	if len(result.Values) != 1 || result.Values[0].AsInt() != 99 {
		t.Fatalf("values = %v, want [99]", result.Values)
	}
}

func TestSysBadModuleIndexFaults(t *testing.T) {
	code := cat(i2(OpSys, 5, 0), i1(OpRetN, 1))
	var pb poolBuilder
	main := pb.addCode(0, 1, code)
	img := buildImage(0, main, pb.buf)

	inst := mustVM(t, img, testConfig(64, 0, 8))
	result := inst.Run()
	if result.Status != StatusFaulted || result.Fault.Kind != BadNativeIndex {
		t.Fatalf("status = %v, fault = %+v, want BadNativeIndex", result.Status, result.Fault)
	}
}

func TestSysArityMismatchFaults(t *testing.T) {
	code := cat(i2(OpSys, 0, 0), i1(OpRetN, 1))
	var pb poolBuilder
	main := pb.addCode(0, 1, code)
	img := buildImage(0, main, pb.buf)

	inst := mustVM(t, img, testConfig(64, 0, 8))
	inst.RegisterNative(NativeModule{
		Name: "bad",
		Functions: []NativeFunc{
			{Name: "wrong", ArityIn: 0, ArityOut: 1, Handler: func(c *Cap, args []Word) []Word {
				return nil // declared ArityOut 1 but returns 0 results
			}},
		},
	})
	result := inst.Run()
	if result.Status != StatusFaulted || result.Fault.Kind != BadNativeArity {
		t.Fatalf("status = %v, fault = %+v, want BadNativeArity", result.Status, result.Fault)
	}
}
