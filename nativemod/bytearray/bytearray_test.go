package bytearray_test

import (
	"log/slog"
	"testing"

	"github.com/robey/mwrt/nativemod/bytearray"
	"github.com/robey/mwrt/vm"
)

func encVarint(uv uint64) []byte {
	var out []byte
	for {
		b := byte(uv & 0x7f)
		uv >>= 7
		if uv != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if uv == 0 {
			break
		}
	}
	return out
}

func encZigzag(n int64) []byte {
	return encVarint(uint64((n << 1) ^ (n >> 63)))
}

func i1(op vm.Opcode, n int64) []byte {
	b := []byte{byte(op)}
	if op == vm.OpLdImm {
		return append(b, encZigzag(n)...)
	}
	return append(b, encVarint(uint64(n))...)
}

func i2(op vm.Opcode, n1, n2 int64) []byte {
	b := []byte{byte(op)}
	b = append(b, encVarint(uint64(n1))...)
	b = append(b, encVarint(uint64(n2))...)
	return b
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func buildImage(globalCount, mainOffset int, poolBytes []byte) []byte {
	out := []byte{0xF0, 0x9F, 0x97, 0xBF, 0, byte(globalCount)}
	out = append(out, encVarint(uint64(mainOffset))...)
	out = append(out, poolBytes...)
	return out
}

// End-to-end exercise of every bytearray function through the SYS
// trampoline: alloc, fill, get, set, get, len.
func TestByteArrayModuleEndToEnd(t *testing.T) {
	const mod = 0
	const (
		fnAlloc = 0
		fnLen   = 1
		fnGet   = 2
		fnSet   = 3
		fnFill  = 4
	)

	code := cat(
		i1(vm.OpLdImm, 5), i2(vm.OpSys, mod, fnAlloc),
		i1(vm.OpStLocal, 0),

		i1(vm.OpLdLocal, 0), i1(vm.OpLdImm, 65), i2(vm.OpSys, mod, fnFill),

		i1(vm.OpLdLocal, 0), i1(vm.OpLdImm, 2), i2(vm.OpSys, mod, fnGet),

		i1(vm.OpLdLocal, 0), i1(vm.OpLdImm, 0), i1(vm.OpLdImm, 10), i2(vm.OpSys, mod, fnSet),

		i1(vm.OpLdLocal, 0), i1(vm.OpLdImm, 0), i2(vm.OpSys, mod, fnGet),

		i1(vm.OpLdLocal, 0), i2(vm.OpSys, mod, fnLen),

		i1(vm.OpRetN, 3),
	)

	poolBytes := append([]byte{1, 4}, byte(len(code)), byte(len(code)>>8))
	poolBytes = append(poolBytes, code...)
	img := buildImage(0, 0, poolBytes)

	inst, err := vm.NewVM(img, vm.Config{HeapSizeWords: 64, InstructionBudget: 0, MaxCallDepth: 4}, slog.Default())
	if err != nil {
		t.Fatalf("NewVM failed: %v", err)
	}
	inst.RegisterNative(bytearray.New())

	result := inst.Run()
	if result.Status != vm.StatusHalted {
		t.Fatalf("status = %v, fault = %+v", result.Status, result.Fault)
	}
	if len(result.Values) != 3 {
		t.Fatalf("values = %v, want 3 results", result.Values)
	}
	if result.Values[0].AsInt() != 65 {
		t.Errorf("first get = %d, want 65 (filled value)", result.Values[0].AsInt())
	}
	if result.Values[1].AsInt() != 10 {
		t.Errorf("second get = %d, want 10 (set value)", result.Values[1].AsInt())
	}
	if result.Values[2].AsInt() != 5 {
		t.Errorf("len = %d, want 5", result.Values[2].AsInt())
	}
}
