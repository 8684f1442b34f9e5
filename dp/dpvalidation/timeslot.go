package dpvalidation

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// TimeSlotValidator checks that the block was produced inside the
// sender's assigned window.
//
// The check runs against the node's own observed block time exclusively.
// Accepting a peer-supplied production time would allow backdating a
// block into an already-closed slot, so no such field exists in the
// validation context at all.
type TimeSlotValidator struct{}

func (TimeSlotValidator) Name() string { return "time_slot" }

func (v TimeSlotValidator) Validate(vctx *Context) error {
	slot := vctx.senderSlot()
	if slot == nil {
		// MiningPermissionValidator already rejected.
		return nil
	}

	var proposed *dpconsensus.Round
	switch b := vctx.Behavior.(type) {
	case dpconsensus.PublishValue, dpconsensus.TinyBlock:
		if vctx.TermExempt {
			// The first round of a term has no prior schedule,
			// so there is nothing to compare against.
			return nil
		}

		start := slot.ExpectedMiningTime
		end := start.Add(vctx.BaseRound.MiningIntervalMS)
		if vctx.LocalTime.Before(start) || !vctx.LocalTime.Before(end) {
			return Rejectf(v.Name(),
				"block time %s outside slot [%s, %s) of order %d",
				vctx.LocalTime, start, end, slot.Order,
			)
		}
		return nil

	case dpconsensus.NextRound:
		proposed = b.ProposedRound
	case dpconsensus.NextTerm:
		proposed = b.ProposedRound
	default:
		return nil
	}

	// Round termination is legal only once the sender's
	// abnormal-production window has opened.
	earliest := vctx.BaseRound.ArrangeAbnormalMiningTime(vctx.Sender)
	if vctx.LocalTime.Before(earliest) {
		return Rejectf(v.Name(),
			"round termination at %s before sender's window opens at %s",
			vctx.LocalTime, earliest,
		)
	}

	// The new schedule must begin near the observed block time.
	// A start backdated past the tolerance would install a round whose
	// slots are already partly or wholly expired, charging the whole
	// miner set missed slots they never had a chance to fill.
	start := proposed.RoundStartTime()
	tolerance := vctx.BaseRound.MiningIntervalMS
	if start.Before(vctx.LocalTime.Add(-tolerance)) || start.After(vctx.LocalTime.Add(tolerance)) {
		return Rejectf(v.Name(),
			"proposed round starts at %s, more than one interval from observed block time %s",
			start, vctx.LocalTime,
		)
	}
	return nil
}
