package dpconsensus

import "github.com/rotor-engine/rotor/dphash"

// Behavior is the tagged union of consensus mutations a block can carry.
//
// The interface is sealed: the four concrete behaviors below are the
// only implementations, and every consumer type-switches over them
// exhaustively, rejecting anything else as malformed.
type Behavior interface {
	isBehavior()

	// Name returns the behavior's wire name, used in logs and
	// rejection reasons.
	Name() string
}

// PublishValue is the first block of a miner's slot: it publishes the
// miner's commitment for this round and reveals the preimage of the
// previous round's commitment.
type PublishValue struct {
	// OutValue is the new commitment: the hash of an in-value the miner
	// keeps secret until next round.
	OutValue dphash.Hash

	// Signature is the miner's per-round deterministic value,
	// derived from its out-value and in-value.
	Signature dphash.Hash

	// PreviousInValue reveals the preimage of the commitment the miner
	// published in the previous round. Zero when the miner has nothing
	// to reveal (first round of a term, or the miner skipped a round).
	PreviousInValue dphash.Hash

	// ImpliedIrreversibleHeight is the chain height the miner considers
	// irreversible. Validation rejects values beyond the local chain tip.
	ImpliedIrreversibleHeight uint64

	// EncryptedShares carries threshold shares of the miner's current
	// in-value, one per recipient, keyed by the recipient's marshaled
	// public key.
	EncryptedShares map[string][]byte

	// DecryptedPreviousShares carries shares of other miners'
	// previous-round in-values that this miner was able to decrypt,
	// keyed by the owning miner's marshaled public key.
	DecryptedPreviousShares map[string][]byte
}

// TinyBlock is a subsequent block produced by the same miner within its
// slot, bounded by the continuous-block counter. It carries no consensus
// values; the local node records its own clock for the production time.
type TinyBlock struct{}

// NextRound proposes the succeeding round of the same term.
// The proposal is accepted only if it matches, field for field,
// what round generation derives from the stored round.
type NextRound struct {
	ProposedRound *Round
}

// NextTerm proposes the opening round of a new term with a (possibly)
// new miner list sourced from the election collaborator.
type NextTerm struct {
	ProposedRound *Round
}

func (PublishValue) isBehavior() {}
func (TinyBlock) isBehavior()    {}
func (NextRound) isBehavior()    {}
func (NextTerm) isBehavior()     {}

func (PublishValue) Name() string { return "publish_value" }
func (TinyBlock) Name() string    { return "tiny_block" }
func (NextRound) Name() string    { return "next_round" }
func (NextTerm) Name() string     { return "next_term" }
