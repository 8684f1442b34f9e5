package dpvalidation

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// IrreversibleValidator rejects irreversibility claims describing the
// future: an implied height must refer to a block this node already has,
// and confirmed heights never move backwards.
type IrreversibleValidator struct{}

func (IrreversibleValidator) Name() string { return "irreversible" }

func (v IrreversibleValidator) Validate(vctx *Context) error {
	switch b := vctx.Behavior.(type) {
	case dpconsensus.PublishValue:
		if b.ImpliedIrreversibleHeight > vctx.LocalHeight {
			return Rejectf(v.Name(),
				"implied irreversible height %d exceeds local chain height %d",
				b.ImpliedIrreversibleHeight, vctx.LocalHeight,
			)
		}

	case dpconsensus.NextRound, dpconsensus.NextTerm:
		proposed := proposedRound(b)
		if proposed.ConfirmedIrreversibleHeight > vctx.LocalHeight {
			return Rejectf(v.Name(),
				"confirmed irreversible height %d exceeds local chain height %d",
				proposed.ConfirmedIrreversibleHeight, vctx.LocalHeight,
			)
		}
		if proposed.ConfirmedIrreversibleHeight < vctx.BaseRound.ConfirmedIrreversibleHeight {
			return Rejectf(v.Name(),
				"confirmed irreversible height regressed from %d to %d",
				vctx.BaseRound.ConfirmedIrreversibleHeight, proposed.ConfirmedIrreversibleHeight,
			)
		}
	}

	return nil
}

func proposedRound(b dpconsensus.Behavior) *dpconsensus.Round {
	switch b := b.(type) {
	case dpconsensus.NextRound:
		return b.ProposedRound
	case dpconsensus.NextTerm:
		return b.ProposedRound
	}
	return nil
}
