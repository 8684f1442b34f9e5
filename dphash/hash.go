package dphash

import (
	"encoding/hex"
	"fmt"
)

// Size is the byte length of every consensus hash value.
const Size = 32

// Hash is a fixed-length hash value.
//
// The zero value is the sentinel for "not yet produced":
// a miner slot whose commitment or signature is the zero Hash
// has not contributed to the round,
// and the zero value must never be accepted as a consensus contribution.
type Hash [Size]byte

// FromBytes converts b to a Hash,
// rejecting any slice that is not exactly [Size] bytes.
func FromBytes(b []byte) (Hash, error) {
	if len(b) != Size {
		return Hash{}, fmt.Errorf("hash must be exactly %d bytes, got %d", Size, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether h is the zero sentinel.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a newly allocated copy of the hash contents.
func (h Hash) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, h[:])
	return out
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
