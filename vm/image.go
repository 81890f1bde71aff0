package vm

import (
	"github.com/pkg/errors"
)

// Image file header:
//
//	u32 magic = 0xF0 9F 97 BF (little-endian on disk)
//	u8  version = 0
//	u8  global_count
//	varuint main_function_offset (byte offset in pool, pre-tag)
//	raw bytes: constant pool
var imageMagic = [4]byte{0xF0, 0x9F, 0x97, 0xBF}

const imageVersion = 0

// Image is a parsed, loaded program image: a constant pool plus the
// metadata from the image header needed to start execution. Building one
// does not run any guest code.
type Image struct {
	Pool        *Pool
	GlobalCount int
	MainRef     Word // tagged pool reference to the entry point's code object
}

// LoadImage parses image header bytes and wraps the remainder as a
// constant pool. This is the one piece of "loader" work the core does
// itself, rather than trusting an external loader, since the image format
// is part of the core's external interface; the richer job of producing
// pool bytes from a compiler's output remains an external collaborator's
// job.
func LoadImage(data []byte) (*Image, error) {
	if len(data) < 4+1+1+1 {
		return nil, &LoadErr{msg: "image too short for header"}
	}
	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != imageMagic {
		return nil, &LoadErr{msg: "bad magic"}
	}
	version := data[4]
	if version != imageVersion {
		return nil, &LoadErr{msg: errors.Errorf("unsupported image version %d", version).Error()}
	}
	globalCount := int(data[5])

	mainOffset, next, ok := decodeVarint(data, 6)
	if !ok {
		return nil, &LoadErr{msg: "truncated main_function_offset"}
	}
	if mainOffset < 0 {
		return nil, &LoadErr{msg: "negative main_function_offset"}
	}

	pool := NewPool(data[next:])
	if _, ok := pool.CodeObjectAt(int(mainOffset)); !ok {
		return nil, &LoadErr{msg: "main_function_offset does not name a valid code object"}
	}

	return &Image{
		Pool:        pool,
		GlobalCount: globalCount,
		MainRef:     PoolRefFromByteOffset(int(mainOffset)),
	}, nil
}
