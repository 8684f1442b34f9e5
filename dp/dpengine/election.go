package dpengine

import (
	"context"
	"fmt"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/internal/dlog"
)

// Replacement pairs an expelled miner with its replacement candidate.
type Replacement struct {
	Old, New string
}

// ElectionSource is the engine's view of the election collaborator.
//
// All of its answers must be deterministic functions of committed chain
// state: every honest node asks the same questions at the same round
// boundaries and must receive the same answers.
type ElectionSource interface {
	// NextTermMiners returns the miner list for the term after the
	// current one.
	NextTermMiners(ctx context.Context, current []string) ([]string, error)

	// GetMinerReplacements returns replacement pairs for the given
	// expelled miners. Fewer pairs than expelled miners is normal when
	// no candidates are available.
	GetMinerReplacements(ctx context.Context, expelled []string) ([]Replacement, error)

	// IsCandidateActive reports whether the candidate is currently an
	// announced, unexpelled election candidate. Replacements naming an
	// inactive candidate are stale and are dropped.
	IsCandidateActive(ctx context.Context, pubKey string) (bool, error)
}

// applyReplacements expels miners whose missed-slot count crossed the
// threshold, handing their fresh slots in the installed round to active
// replacement candidates. The installed round's counters are consulted,
// since they already include the round just missed.
func (e *Engine) applyReplacements(
	ctx context.Context,
	installed *dpconsensus.Round,
) error {
	if e.election == nil {
		return nil
	}

	var expelled []string
	for pk, s := range installed.Slots {
		if s.MissedSlots > e.missThreshold {
			expelled = append(expelled, pk)
		}
	}
	if len(expelled) == 0 {
		return nil
	}

	replacements, err := e.election.GetMinerReplacements(ctx, expelled)
	if err != nil {
		return fmt.Errorf("failed to get miner replacements: %w", err)
	}

	for _, rep := range replacements {
		slot, ok := installed.Slots[rep.Old]
		if !ok {
			continue
		}
		if _, taken := installed.Slots[rep.New]; taken {
			continue
		}

		active, err := e.election.IsCandidateActive(ctx, rep.New)
		if err != nil {
			return fmt.Errorf("failed to check candidate activity: %w", err)
		}
		if !active {
			e.log.Warn(
				"Dropping stale miner replacement: candidate no longer active",
				"candidate", dlog.Hex([]byte(rep.New)),
			)
			continue
		}

		delete(installed.Slots, rep.Old)
		slot.PubKey = rep.New

		// The replacement inherits the schedule position but not the
		// expelled miner's record.
		slot.ProducedBlocks = 0
		slot.ProducedTinyBlocks = 0
		slot.MissedSlots = 0

		installed.Slots[rep.New] = slot
		if installed.ExtraBlockProducer == rep.Old {
			installed.ExtraBlockProducer = rep.New
		}
		installed.IsMinerListChanged = true

		e.secrets.ReplaceIdentity(rep.Old, rep.New)

		if e.metrics != nil {
			e.metrics.MinerReplacements.Inc()
		}
		if e.onMinerReplaced != nil {
			e.onMinerReplaced(MinerReplacement{
				Old:         rep.Old,
				New:         rep.New,
				RoundNumber: installed.RoundNumber,
			})
		}
		e.log.Info(
			"Replaced miner",
			"old", dlog.Hex([]byte(rep.Old)),
			"new", dlog.Hex([]byte(rep.New)),
			"round", installed.RoundNumber,
		)
	}

	return nil
}
