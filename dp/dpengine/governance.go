package dpengine

import (
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// MinGovernanceIntervalMS is the operational floor on the mining
// interval. The protocol's own lower bound is 1ms, but anything under
// a tenth of a second leaves no time to propagate a block.
const MinGovernanceIntervalMS = int64(100)

// SetMiningInterval schedules a new mining interval.
// It takes effect at the next term transition, where the whole schedule
// is regenerated; a live round's slot times are never rewritten.
func (e *Engine) SetMiningInterval(intervalMS int64) error {
	if intervalMS <= 0 {
		return dpconsensus.Malformedf("mining interval %dms must be positive", intervalMS)
	}
	if intervalMS < MinGovernanceIntervalMS {
		return dpconsensus.Malformedf(
			"mining interval %dms below operational floor %dms",
			intervalMS, MinGovernanceIntervalMS,
		)
	}
	if intervalMS > dpconsensus.MaxMiningIntervalMS {
		return dpconsensus.Malformedf(
			"mining interval %dms above maximum %dms",
			intervalMS, dpconsensus.MaxMiningIntervalMS,
		)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingIntervalMS = intervalMS
	e.log.Info("Scheduled mining interval change", "interval_ms", intervalMS)
	return nil
}

// SetMaximumBlocksPerSlot changes the per-slot block budget,
// effective immediately. The continuous-block tracker resets on the
// next observed block, so no miner carries budget across the change.
func (e *Engine) SetMaximumBlocksPerSlot(limit int) error {
	if limit <= 0 {
		return dpconsensus.Malformedf("blocks-per-slot limit %d must be positive", limit)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.slotLimit = limit
	e.log.Info("Changed blocks-per-slot limit", "limit", limit)
	return nil
}
