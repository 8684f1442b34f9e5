package dpengine

import (
	"context"
	"fmt"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dptime"
)

// Action is what a producing miner should do next.
type Action string

const (
	// ActionWait: outside every window; produce nothing.
	ActionWait Action = "wait"

	// ActionPublishValue: the miner's slot is open and it has not yet
	// published this round.
	ActionPublishValue Action = "publish_value"

	// ActionTinyBlock: the slot is still open and budget remains.
	ActionTinyBlock Action = "tiny_block"

	// ActionNextRound / ActionNextTerm: the miner's termination window
	// has opened and it should propose the transition.
	ActionNextRound Action = "next_round"
	ActionNextTerm  Action = "next_term"
)

// NextBehavior reports what the given miner should do at time now,
// judged against the stored round.
func (e *Engine) NextBehavior(ctx context.Context, pubKey string, now dptime.Timestamp) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return ActionWait, ErrHalted
	}

	r, err := e.store.LoadLatestRound(ctx)
	if err != nil {
		return ActionWait, fmt.Errorf("failed to load latest round: %w", err)
	}

	slot, ok := r.Slots[pubKey]
	if !ok {
		return ActionWait, nil
	}

	open := slot.ExpectedMiningTime
	end := open.Add(r.MiningIntervalMS)
	inSlot := !now.Before(open) && now.Before(end)

	switch {
	case inSlot && !slot.HasPublishedValue():
		return ActionPublishValue, nil
	case inSlot && e.tiny.Peek(pubKey, e.slotLimit) >= 0:
		return ActionTinyBlock, nil
	}

	if !now.Before(r.ArrangeAbnormalMiningTime(pubKey)) {
		if e.termElapsed(r) {
			return ActionNextTerm, nil
		}
		return ActionNextRound, nil
	}

	return ActionWait, nil
}

// BuildTransition derives the round-transition behavior the local node
// would propose at time now: the next round of the same term, or the
// opening round of a new term when the term has run its course.
func (e *Engine) BuildTransition(ctx context.Context, now dptime.Timestamp) (dpconsensus.Behavior, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return nil, ErrHalted
	}

	r, err := e.store.LoadLatestRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest round: %w", err)
	}

	if e.termElapsed(r) && e.election != nil {
		current := make([]string, 0, len(r.Slots))
		for pk := range r.Slots {
			current = append(current, pk)
		}
		miners, err := e.election.NextTermMiners(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to get next-term miner list: %w", err)
		}

		interval := r.MiningIntervalMS
		if e.pendingIntervalMS != 0 {
			interval = e.pendingIntervalMS
		}

		next, err := dpconsensus.GenerateNextTermRound(r, miners, interval, now, e.scheme)
		if err != nil {
			return nil, err
		}
		return dpconsensus.NextTerm{ProposedRound: next}, nil
	}

	next, err := dpconsensus.GenerateNextRound(r, now)
	if err != nil {
		return nil, err
	}
	return dpconsensus.NextRound{ProposedRound: next}, nil
}

// termElapsed reports whether the round is the last of its term.
func (e *Engine) termElapsed(r *dpconsensus.Round) bool {
	if e.termRounds == 0 {
		return false
	}
	return r.RoundNumber-e.termStartRound+1 >= e.termRounds
}
