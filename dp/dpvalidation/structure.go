package dpvalidation

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// StructureValidator rejects malformed input at the boundary,
// before any protocol-level validator runs.
// It is also the point where corruption of the locally stored round
// is detected and surfaced as fatal.
type StructureValidator struct{}

func (StructureValidator) Name() string { return "structure" }

func (v StructureValidator) Validate(vctx *Context) error {
	if err := vctx.BaseRound.CheckStored(); err != nil {
		return err
	}

	switch b := vctx.Behavior.(type) {
	case dpconsensus.PublishValue:
		return nil
	case dpconsensus.TinyBlock:
		return nil
	case dpconsensus.NextRound:
		return v.checkTransition(vctx, b.ProposedRound, vctx.BaseRound.TermNumber)
	case dpconsensus.NextTerm:
		return v.checkTransition(vctx, b.ProposedRound, vctx.BaseRound.TermNumber+1)
	case nil:
		return dpconsensus.Malformedf("behavior is missing")
	default:
		return dpconsensus.Malformedf("unknown behavior %q", vctx.Behavior.Name())
	}
}

func (StructureValidator) checkTransition(vctx *Context, proposed *dpconsensus.Round, wantTerm uint64) error {
	if proposed == nil {
		return dpconsensus.Malformedf("transition carries no proposed round")
	}
	if err := proposed.CheckStructure(); err != nil {
		return err
	}
	if proposed.RoundNumber != vctx.BaseRound.RoundNumber+1 {
		return dpconsensus.Malformedf(
			"proposed round number %d does not succeed stored round %d",
			proposed.RoundNumber, vctx.BaseRound.RoundNumber,
		)
	}
	if proposed.TermNumber != wantTerm {
		return dpconsensus.Malformedf(
			"proposed term number %d, want %d", proposed.TermNumber, wantTerm,
		)
	}
	return nil
}
