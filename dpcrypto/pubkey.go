package dpcrypto

// PubKey is the public half of a miner's keypair capability.
//
// The consensus core never interprets key material;
// it only needs stable identity bytes for map keys
// and signature verification at the block boundary.
type PubKey interface {
	// Address returns a shortened, human-meaningful identifier
	// derived from the public key.
	Address() []byte

	// PubKeyBytes returns the canonical byte representation of the key.
	// Consensus structures key their per-miner maps
	// by string(PubKeyBytes()).
	PubKeyBytes() []byte

	// Equal reports whether other represents the same public key.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg
	// under this public key.
	Verify(msg, sig []byte) bool
}

// Signer is the private half of a keypair capability.
type Signer interface {
	PubKey() PubKey

	Sign(msg []byte) ([]byte, error)
}
