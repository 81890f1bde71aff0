// Package bytearray is a small demo native module exercising the SYS
// trampoline against byte-array heap objects: allocation, length, byte
// get/set, and a fill helper. It is a reference implementation, not
// part of the core — a real deployment supplies its own module set, but
// something has to prove the capability handle actually works end to end.
package bytearray

import "github.com/robey/mwrt/vm"

// New returns the module declaration ready for vm.RegisterNative. Function
// indices match the order below: 0=alloc, 1=len, 2=get, 3=set, 4=fill.
func New() vm.NativeModule {
	return vm.NativeModule{
		Name: "bytearray",
		Functions: []vm.NativeFunc{
			{Name: "alloc", ArityIn: 1, ArityOut: 1, Handler: alloc},
			{Name: "len", ArityIn: 1, ArityOut: 1, Handler: length},
			{Name: "get", ArityIn: 2, ArityOut: 1, Handler: get},
			{Name: "set", ArityIn: 3, ArityOut: 0, Handler: set},
			{Name: "fill", ArityIn: 2, ArityOut: 0, Handler: fill},
		},
	}
}

func alloc(c *vm.Cap, args []vm.Word) []vm.Word {
	n := int(args[0].AsInt())
	ref := c.AllocateByteArray(n)
	return []vm.Word{ref}
}

func length(c *vm.Cap, args []vm.Word) []vm.Word {
	n, ok := c.ByteArrayLen(args[0])
	if !ok {
		return []vm.Word{vm.IntWord(-1)}
	}
	return []vm.Word{vm.IntWord(vm.SWord(n))}
}

func get(c *vm.Cap, args []vm.Word) []vm.Word {
	buf, ok := c.ByteArrayBytes(args[0])
	i := int(args[1].AsInt())
	if !ok || i < 0 || i >= len(buf) {
		return []vm.Word{vm.IntWord(-1)}
	}
	return []vm.Word{vm.IntWord(vm.SWord(buf[i]))}
}

func set(c *vm.Cap, args []vm.Word) []vm.Word {
	ref, idx, val := args[0], int(args[1].AsInt()), byte(args[2].AsInt())
	buf, ok := c.ByteArrayBytes(ref)
	if !ok || idx < 0 || idx >= len(buf) {
		return nil
	}
	buf[idx] = val
	c.SetByteArrayBytes(ref, buf)
	return nil
}

func fill(c *vm.Cap, args []vm.Word) []vm.Word {
	ref, val := args[0], byte(args[1].AsInt())
	buf, ok := c.ByteArrayBytes(ref)
	if !ok {
		return nil
	}
	for i := range buf {
		buf[i] = val
	}
	c.SetByteArrayBytes(ref, buf)
	return nil
}
