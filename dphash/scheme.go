package dphash

import "golang.org/x/crypto/blake2b"

// Scheme determines how consensus hash values are computed.
//
// Every node participating in the same network must use the same Scheme;
// the derived next-round orders and commitment checks
// are only reproducible when the hashes match bit for bit.
type Scheme interface {
	// Compute returns the hash of the given data.
	Compute(data []byte) Hash

	// ConcatCompute returns the hash of a followed by b.
	// It is used to fold two existing hash values into one,
	// such as deriving a slot signature from the miner's
	// out-value and revealed in-value.
	ConcatCompute(a, b Hash) Hash
}

// Blake2bScheme is a [Scheme] backed by BLAKE2b-256.
type Blake2bScheme struct{}

func (Blake2bScheme) Compute(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

func (Blake2bScheme) ConcatCompute(a, b Hash) Hash {
	buf := make([]byte, 0, 2*Size)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return Hash(blake2b.Sum256(buf))
}
