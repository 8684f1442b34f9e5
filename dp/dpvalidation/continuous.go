package dpvalidation

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// ContinuousTracker tracks how many more blocks the currently producing
// miner may append within its slot.
//
// When either the miner or the blocks-per-slot limit changes,
// the counter is reset to exactly limit-1. Decrementing a counter left
// over from a previous limit would let a miner carry headroom across an
// emergency throttling change, so the reset is unconditional on any
// limit change.
type ContinuousTracker struct {
	miner     string
	limit     int
	remaining int
}

// next computes the counter value this block would leave behind,
// without committing it.
func (t *ContinuousTracker) next(miner string, limit int) int {
	if miner != t.miner || limit != t.limit {
		return limit - 1
	}
	return t.remaining - 1
}

// Peek returns the counter value the given block would leave behind.
// A negative value means the block exceeds the slot's budget.
func (t *ContinuousTracker) Peek(miner string, limit int) int {
	return t.next(miner, limit)
}

// Observe commits the given block to the tracker,
// returning the remaining budget.
// Callers invoke Observe only after the whole pipeline accepted the block.
func (t *ContinuousTracker) Observe(miner string, limit int) int {
	t.remaining = t.next(miner, limit)
	t.miner = miner
	t.limit = limit
	return t.remaining
}

// Reset forgets the tracked miner. A round transition opens a fresh
// slot for every miner, including the one that just exhausted the
// superseded round's slot.
func (t *ContinuousTracker) Reset() {
	*t = ContinuousTracker{}
}

// ContinuousBlocksValidator bounds how many blocks one miner can chain
// within a single time slot.
type ContinuousBlocksValidator struct{}

func (ContinuousBlocksValidator) Name() string { return "continuous_blocks" }

func (v ContinuousBlocksValidator) Validate(vctx *Context) error {
	switch vctx.Behavior.(type) {
	case dpconsensus.PublishValue, dpconsensus.TinyBlock:
	default:
		return nil
	}
	if vctx.Tiny == nil {
		return nil
	}
	if vctx.SlotLimit <= 0 {
		return Rejectf(v.Name(), "blocks-per-slot limit %d is not positive", vctx.SlotLimit)
	}

	if vctx.Tiny.Peek(vctx.Sender, vctx.SlotLimit) < 0 {
		return Rejectf(v.Name(),
			"miner %x exceeded %d blocks in its slot", vctx.Sender, vctx.SlotLimit,
		)
	}
	return nil
}
