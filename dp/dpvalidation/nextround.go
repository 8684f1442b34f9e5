package dpvalidation

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// NextRoundValidator requires a proposed round transition to match,
// bit for bit, what round generation derives locally from the stored
// round. An attacker-supplied reordering of next-round slots therefore
// cannot survive validation: disagreement is rejection, never coercion.
type NextRoundValidator struct{}

func (NextRoundValidator) Name() string { return "next_round" }

func (v NextRoundValidator) Validate(vctx *Context) error {
	var proposed *dpconsensus.Round
	var expected *dpconsensus.Round
	var err error

	switch b := vctx.Behavior.(type) {
	case dpconsensus.NextRound:
		proposed = b.ProposedRound
		expected, err = dpconsensus.GenerateNextRound(vctx.BaseRound, proposed.RoundStartTime())
	case dpconsensus.NextTerm:
		proposed = b.ProposedRound
		// The interval may change at a term boundary; the proposed
		// value is taken, bounds-checked inside generation, and the
		// hash comparison then holds the whole schedule to it.
		expected, err = dpconsensus.GenerateNextTermRound(
			vctx.BaseRound, minerList(proposed), proposed.MiningIntervalMS,
			proposed.RoundStartTime(), vctx.Scheme,
		)
	default:
		return nil
	}
	if err != nil {
		// Generation only fails on corrupt local state or a malformed
		// proposed miner list; both surface as-is.
		return err
	}

	if proposed.Hash(vctx.Scheme) != expected.Hash(vctx.Scheme) {
		return Rejectf(v.Name(),
			"proposed round %d does not match local derivation from round %d",
			proposed.RoundNumber, vctx.BaseRound.RoundNumber,
		)
	}
	return nil
}

func minerList(r *dpconsensus.Round) []string {
	out := make([]string, 0, len(r.Slots))
	for pk := range r.Slots {
		out = append(out, pk)
	}
	return out
}
