package dpcryptotest

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/rotor-engine/rotor/dpcrypto"
)

// DeterministicEd25519Signers returns n ed25519 signers derived from
// fixed seeds.
//
// Deterministic keys mean subsequent runs of the same test use the same
// identities, so logs involving keys do not change across runs,
// which simplifies debugging.
func DeterministicEd25519Signers(n int) []dpcrypto.Ed25519Signer {
	out := make([]dpcrypto.Ed25519Signer, n)
	for i := range out {
		seed := blake2b.Sum256([]byte(fmt.Sprintf("deterministic-ed25519-signer-%d", i)))
		out[i] = dpcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:]))
	}
	return out
}
