package vm

import (
	"strings"
	"testing"
)

func TestDisassembleCodeObject(t *testing.T) {
	code := cat(
		i1(OpLdImm, 5),
		i1(OpLdImm, 6),
		i1(OpBinary, int64(BinAdd)),
		i1(OpRetN, 1),
	)
	var pb poolBuilder
	offset := pb.addCode(0, 2, code)
	pool := NewPool(pb.buf)

	out, err := DisassembleCodeObject(pool, offset)
	if err != nil {
		t.Fatalf("DisassembleCodeObject failed: %v", err)
	}
	if !strings.Contains(out, "LD# 5") {
		t.Errorf("expected an LD# 5 line, got:\n%s", out)
	}
	if !strings.Contains(out, "RET# 1") {
		t.Errorf("expected a RET# 1 line, got:\n%s", out)
	}
}

func TestDisassembleCodeObjectMissing(t *testing.T) {
	pool := NewPool(make([]byte, 8))
	if _, err := DisassembleCodeObject(pool, 100); err == nil {
		t.Error("expected an error for a missing code object")
	}
}

func TestDisassembleToleratesMalformedTail(t *testing.T) {
	// A valid instruction followed by a reserved opcode byte: the listing
	// should show the first line and stop cleanly rather than panicking.
	code := cat(i0(OpNop), []byte{0x02})
	var pb poolBuilder
	offset := pb.addCode(0, 1, code)
	pool := NewPool(pb.buf)

	out, err := DisassembleCodeObject(pool, offset)
	if err != nil {
		t.Fatalf("DisassembleCodeObject returned an error instead of an inline fault line: %v", err)
	}
	if !strings.Contains(out, "NOP") || !strings.Contains(out, "<") {
		t.Errorf("expected a NOP line followed by an inline error marker, got:\n%s", out)
	}
}
