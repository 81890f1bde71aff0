package vm

import (
	"log/slog"
	"testing"
)

func TestNewVMRejectsInvalidImage(t *testing.T) {
	if _, err := NewVM([]byte{0, 0, 0, 0}, DefaultConfig(), slog.Default()); err == nil {
		t.Error("expected NewVM to reject a bad image")
	}
}

func TestNewVMAcceptsNilLogger(t *testing.T) {
	var pb poolBuilder
	main := pb.addCode(0, 1, cat(i1(OpLdImm, 1), i1(OpRetN, 1)))
	img := buildImage(0, main, pb.buf)
	inst, err := NewVM(img, testConfig(16, 0, 4), nil)
	if err != nil {
		t.Fatalf("NewVM failed: %v", err)
	}
	if inst.Logger() == nil {
		t.Error("Logger() should never be nil")
	}
}

func TestReadWriteGlobalRoundTrip(t *testing.T) {
	code := cat(i1(OpLdGlobal, 0), i1(OpRetN, 1))
	var pb poolBuilder
	main := pb.addCode(0, 1, code)
	img := buildImage(1, main, pb.buf)

	inst := mustVM(t, img, testConfig(16, 0, 4))
	if !inst.WriteGlobal(0, IntWord(123)) {
		t.Fatal("WriteGlobal(0, ...) failed")
	}
	if v, ok := inst.ReadGlobal(0); !ok || v.AsInt() != 123 {
		t.Fatalf("ReadGlobal(0) = %v, %v, want 123", v, ok)
	}

	result := inst.Run()
	if result.Status != StatusHalted || result.Values[0].AsInt() != 123 {
		t.Fatalf("result = %+v, want [123]", result)
	}
}

func TestReadWriteGlobalOutOfRange(t *testing.T) {
	var pb poolBuilder
	main := pb.addCode(0, 1, i1(OpRetN, 0))
	img := buildImage(0, main, pb.buf)
	inst := mustVM(t, img, testConfig(16, 0, 4))

	if _, ok := inst.ReadGlobal(0); ok {
		t.Error("ReadGlobal should fail when there are no globals")
	}
	if inst.WriteGlobal(0, 1) {
		t.Error("WriteGlobal should fail when there are no globals")
	}
}

func TestCancelSuspendsExecution(t *testing.T) {
	code := i1(OpJump, 0) // spin forever
	var pb poolBuilder
	main := pb.addCode(0, 1, code)
	img := buildImage(0, main, pb.buf)

	inst := mustVM(t, img, testConfig(16, 0, 4)) // unbounded instruction budget
	inst.Cancel()                                // request cancellation before the first step

	result := inst.Run()
	if result.Status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", result.Status)
	}
}

func TestRegisterNativeReturnsSequentialIndices(t *testing.T) {
	var pb poolBuilder
	main := pb.addCode(0, 1, i1(OpRetN, 0))
	img := buildImage(0, main, pb.buf)
	inst := mustVM(t, img, testConfig(16, 0, 4))

	idxA := inst.RegisterNative(NativeModule{Name: "a"})
	idxB := inst.RegisterNative(NativeModule{Name: "b"})
	if idxA != 0 || idxB != 1 {
		t.Fatalf("indices = %d, %d, want 0, 1", idxA, idxB)
	}
}
