// Package snapshot persists a vm.Snapshot to and from CBOR-encoded bytes,
// so a host can write a suspended VM's state to flash or a file and
// restore it later without re-running from the image's entry point.
package snapshot

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/robey/mwrt/vm"
)

// Encode serializes a Snapshot to CBOR bytes.
func Encode(s *vm.Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encoding: %w", err)
	}
	return data, nil
}

// Decode parses CBOR bytes back into a Snapshot.
func Decode(data []byte) (*vm.Snapshot, error) {
	var s vm.Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decoding: %w", err)
	}
	return &s, nil
}

// WriteFile encodes a Snapshot and writes it to path.
func WriteFile(path string, s *vm.Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: writing %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and decodes a Snapshot from path.
func ReadFile(path string) (*vm.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %s: %w", path, err)
	}
	return Decode(data)
}
