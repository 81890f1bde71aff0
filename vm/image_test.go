package vm

import "testing"

func validImage() []byte {
	var pb poolBuilder
	main := pb.addCode(0, 1, cat(i1(OpLdImm, 7), i1(OpRetN, 1)))
	return buildImage(0, main, pb.buf)
}

func TestLoadImageValid(t *testing.T) {
	img, err := LoadImage(validImage())
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if !img.MainRef.IsPoolRef() {
		t.Error("MainRef should be a tagged pool reference")
	}
	if _, ok := img.Pool.CodeObjectAt(img.MainRef.PoolByteOffset()); !ok {
		t.Error("MainRef should name a valid code object")
	}
}

func TestLoadImageTooShort(t *testing.T) {
	if _, err := LoadImage([]byte{0xF0, 0x9F}); err == nil {
		t.Error("expected error for too-short image")
	}
}

func TestLoadImageBadMagic(t *testing.T) {
	data := validImage()
	data[0] = 0x00
	if _, err := LoadImage(data); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestLoadImageBadVersion(t *testing.T) {
	data := validImage()
	data[4] = 99
	if _, err := LoadImage(data); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadImageTruncatedMainOffset(t *testing.T) {
	data := validImage()
	// Truncate right after the global_count byte, cutting off the varint.
	if _, err := LoadImage(data[:6]); err == nil {
		t.Error("expected error for truncated main_function_offset")
	}
}

func TestLoadImageInvalidMainOffset(t *testing.T) {
	var pb poolBuilder
	pb.addCode(0, 1, i0(OpNop))
	// Point main at an offset with no code object header (past the pool).
	data := buildImage(0, 4096, pb.buf)
	if _, err := LoadImage(data); err == nil {
		t.Error("expected error for main_function_offset naming no code object")
	}
}
