package dpconsensus

import (
	"slices"

	"github.com/rotor-engine/rotor/dphash"
	"github.com/rotor-engine/rotor/dptime"
)

// MinerSlot is one miner's state within a [Round].
type MinerSlot struct {
	// PubKey is the marshaled public key identifying the miner.
	// It always equals the key under which the slot is stored
	// in Round.Slots.
	PubKey string

	// Order is the slot index within the round, in [1, N].
	// Order values are unique across the round's slots.
	Order int

	// ExpectedMiningTime is round start + Order * mining interval.
	ExpectedMiningTime dptime.Timestamp

	// ActualMiningTimes records every block the miner produced this round,
	// in production order. Entries are appended from the local node's
	// own clock at apply time, never copied from remote input.
	ActualMiningTimes []dptime.Timestamp

	// OutValue is the hash commitment published by the miner this round.
	// Zero until published; immutable once set.
	OutValue dphash.Hash

	// InValueOfPreviousRound is the preimage of the miner's previous-round
	// commitment, revealed this round. Zero until revealed.
	InValueOfPreviousRound dphash.Hash

	// Signature is the miner's deterministic per-round value,
	// derived from hashing its out-value with its in-value.
	// The zero value means "not yet mined" and is never a valid
	// consensus contribution.
	Signature dphash.Hash

	// Production counters. Non-decreasing within a term,
	// carried across rounds, reset only at a term boundary.
	ProducedBlocks     uint64
	ProducedTinyBlocks uint64
	MissedSlots        uint64

	// SupposedNextOrder is the order the miner derived for itself
	// for the next round; FinalNextOrder is the value after conflict
	// resolution. Both are 0 until the miner mines this round.
	SupposedNextOrder int
	FinalNextOrder    int

	// ImpliedIrreversibleHeight is the chain height the miner reported
	// as irreversible when mining. It is recorded clamped to the local
	// node's own known height, never trusted from the proposer.
	ImpliedIrreversibleHeight uint64

	// Secret shares of the miner's in-value, keyed by the marshaled
	// public key of a recipient who is currently a member of the round.
	EncryptedShares map[string][]byte

	// Shares of other miners' in-values this miner decrypted and
	// republished, keyed the same way as EncryptedShares.
	DecryptedShares map[string][]byte
}

// HasMined reports whether the miner produced at least one block this round.
func (s *MinerSlot) HasMined() bool {
	return len(s.ActualMiningTimes) > 0
}

// HasPublishedValue reports whether the miner's commitment is set.
func (s *MinerSlot) HasPublishedValue() bool {
	return !s.OutValue.IsZero()
}

// Clone returns a deep copy of the slot.
func (s *MinerSlot) Clone() *MinerSlot {
	out := *s
	out.ActualMiningTimes = slices.Clone(s.ActualMiningTimes)
	out.EncryptedShares = cloneShareMap(s.EncryptedShares)
	out.DecryptedShares = cloneShareMap(s.DecryptedShares)
	return &out
}

func cloneShareMap(m map[string][]byte) map[string][]byte {
	if m == nil {
		return nil
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}
