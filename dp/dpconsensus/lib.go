package dpconsensus

import "sort"

// MinimumReportCount returns the Byzantine quorum for a miner set of the
// given size: ceil(2N/3) implied-height reports are required before any
// irreversibility update is considered.
func MinimumReportCount(minerCount int) int {
	if minerCount <= 0 {
		return 0
	}
	return (2*minerCount + 2) / 3
}

// ComputeIrreversible computes a new last-irreversible-block height from
// two consecutive rounds' implied-height reports.
//
// Reports are taken from every miner of the previous round that actually
// mined in the current round. With fewer than the quorum of reports there
// is no update. Otherwise the reports are sorted ascending and the
// candidate is the value at index (count-1)/3, the position that remains
// honest with up to one third of reporters lying in either direction.
//
// A candidate beyond localHeight describes the future and is never
// adopted: that is how a colluding minority is prevented from dragging
// irreversibility past the actual chain tip. A candidate at or below the
// currently confirmed height is a no-op.
//
// The returned bool reports whether height should be adopted.
func ComputeIrreversible(current, previous *Round, localHeight uint64) (height uint64, ok bool) {
	if current == nil || previous == nil {
		return 0, false
	}

	n := len(previous.Slots)
	if n == 0 {
		return 0, false
	}

	reports := make([]uint64, 0, n)
	for pk := range previous.Slots {
		cur, isMember := current.Slots[pk]
		if !isMember || !cur.HasMined() {
			continue
		}
		if cur.ImpliedIrreversibleHeight == 0 {
			// Nothing reported yet; common immediately after genesis.
			continue
		}
		reports = append(reports, cur.ImpliedIrreversibleHeight)
	}

	if len(reports) < MinimumReportCount(n) {
		return 0, false
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i] < reports[j] })
	candidate := reports[(len(reports)-1)/3]

	if candidate > localHeight {
		return 0, false
	}
	if candidate <= current.ConfirmedIrreversibleHeight {
		return 0, false
	}

	return candidate, true
}
