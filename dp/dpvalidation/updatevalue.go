package dpvalidation

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// UpdateValueValidator checks the commit/reveal contents of a
// PublishValue block: commitments are present, immutable once set,
// and a revealed preimage actually opens the commitment it claims to.
type UpdateValueValidator struct{}

func (UpdateValueValidator) Name() string { return "update_value" }

func (v UpdateValueValidator) Validate(vctx *Context) error {
	pv, ok := vctx.Behavior.(dpconsensus.PublishValue)
	if !ok {
		return nil
	}

	slot := vctx.senderSlot()
	if slot == nil {
		return nil
	}

	// The zero hash is the "not yet mined" sentinel and is never a
	// valid contribution.
	if pv.OutValue.IsZero() {
		return Rejectf(v.Name(), "out value is the zero sentinel")
	}
	if pv.Signature.IsZero() {
		return Rejectf(v.Name(), "signature is the zero sentinel")
	}

	// Commitment and signature are immutable for the round.
	if slot.HasPublishedValue() {
		return Rejectf(v.Name(),
			"miner %x already published its value for round %d",
			vctx.Sender, vctx.BaseRound.RoundNumber,
		)
	}

	if pv.PreviousInValue.IsZero() {
		return nil
	}

	// If this round already learned the miner's previous in-value
	// (for example through reconstructed secret shares), the reveal
	// must agree with the round's own record, not merely with the
	// previous round.
	if !slot.InValueOfPreviousRound.IsZero() && slot.InValueOfPreviousRound != pv.PreviousInValue {
		return Rejectf(v.Name(),
			"revealed in-value disagrees with the value this round already holds for %x",
			vctx.Sender,
		)
	}

	if vctx.PreviousRound != nil {
		if prevSlot, isMember := vctx.PreviousRound.Slots[vctx.Sender]; isMember && prevSlot.HasPublishedValue() {
			if vctx.Scheme.Compute(pv.PreviousInValue.Bytes()) != prevSlot.OutValue {
				return Rejectf(v.Name(),
					"revealed in-value does not open the commitment %x published in round %d",
					prevSlot.OutValue, vctx.PreviousRound.RoundNumber,
				)
			}
		}
	}

	return nil
}
