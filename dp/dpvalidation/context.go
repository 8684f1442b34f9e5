package dpvalidation

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dphash"
	"github.com/rotor-engine/rotor/dptime"
)

// Context carries everything a validator may consult.
//
// Validators treat the context as read-only; the one exception is the
// continuous-blocks tracker, which is advanced exactly once per
// validated block.
type Context struct {
	// BaseRound is the locally stored round the block claims to extend.
	BaseRound *dpconsensus.Round

	// PreviousRound is the round before BaseRound, when still retained;
	// nil for the first round of the chain or after pruning.
	PreviousRound *dpconsensus.Round

	// Sender is the marshaled public key of the block producer.
	Sender string

	// Behavior is the consensus mutation the block carries.
	Behavior dpconsensus.Behavior

	// LocalTime is this node's own observed block time.
	// Time-slot checks use it exclusively; a peer-supplied
	// timestamp is never consulted.
	LocalTime dptime.Timestamp

	// LocalHeight is this node's current chain height.
	LocalHeight uint64

	// TermExempt marks the first round of a term,
	// which has no prior schedule to compare time slots against.
	TermExempt bool

	// SlotLimit is the protocol's current maximum number of blocks
	// per time slot.
	SlotLimit int

	// Tiny is the per-node continuous-block tracker shared across
	// blocks. Nil disables the continuous-blocks check.
	Tiny *ContinuousTracker

	// Scheme computes commitment hashes for value checks.
	Scheme dphash.Scheme
}

// senderSlot returns the sender's slot in the base round, or nil.
func (vctx *Context) senderSlot() *dpconsensus.MinerSlot {
	if vctx.BaseRound == nil {
		return nil
	}
	return vctx.BaseRound.Slots[vctx.Sender]
}
