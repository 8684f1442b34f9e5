package dpconsensus

import (
	"encoding/binary"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/rotor-engine/rotor/dphash"
)

// ProposeOrder derives a miner's proposed next-round order from its
// per-round signature: abs(first 8 bytes as int64) mod minerCount + 1.
//
// minerCount must be positive. A governance-tunable miner count that
// reached zero would otherwise surface here as a divide by zero,
// so construction is rejected instead.
func ProposeOrder(sig dphash.Hash, minerCount int) (int, error) {
	if minerCount <= 0 {
		return 0, Malformedf("miner count must be positive, got %d", minerCount)
	}

	v := int64(binary.BigEndian.Uint64(sig[:8]))
	if v < 0 {
		v = -v
		if v < 0 {
			// Negating MinInt64 overflows back to itself.
			v = 0
		}
	}

	return int(v%int64(minerCount)) + 1, nil
}

// OrderProposal is one miner's proposed next-round order.
type OrderProposal struct {
	PubKey string
	Order  int
}

// OrderAssignment is a resolved next-round order.
type OrderAssignment struct {
	PubKey string
	Order  int
}

// ResolveOrderConflict places a single proposed order into the used bitmap,
// reassigning to the lowest unused order value >= proposed
// (wrapping circularly) when the proposed value is taken.
//
// The bitmap must have been created with length minerCount.
// It is updated in place with the returned assignment.
func ResolveOrderConflict(used *bitset.BitSet, proposed, minerCount int) (int, error) {
	if minerCount <= 0 {
		return 0, Malformedf("miner count must be positive, got %d", minerCount)
	}
	if proposed < 1 || proposed > minerCount {
		return 0, Malformedf("proposed order %d outside [1, %d]", proposed, minerCount)
	}

	idx := uint(proposed - 1)
	if !used.Test(idx) {
		used.Set(idx)
		return proposed, nil
	}

	// Lowest unused value at or above the proposal, wrapping once.
	if next, ok := used.NextClear(idx); ok && next < uint(minerCount) {
		used.Set(next)
		return int(next) + 1, nil
	}
	if next, ok := used.NextClear(0); ok && next < idx {
		used.Set(next)
		return int(next) + 1, nil
	}

	return 0, Malformedf("no unused order values remain for %d miners", minerCount)
}

// ResolveOrders resolves a full set of proposed next-round orders.
//
// Conflict discovery proceeds in ascending proposed order,
// breaking ties by miner identity, so the final assignment is
// identical on every node regardless of how the caller collected
// the proposals. The returned slice is ordered the same way.
//
// The whole assignment is computed before anything is returned;
// partial states are never exposed.
func ResolveOrders(proposals []OrderProposal, minerCount int) ([]OrderAssignment, error) {
	if minerCount <= 0 {
		return nil, Malformedf("miner count must be positive, got %d", minerCount)
	}
	if len(proposals) > minerCount {
		return nil, Malformedf("%d proposals exceed %d miners", len(proposals), minerCount)
	}

	ordered := make([]OrderProposal, len(proposals))
	copy(ordered, proposals)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].PubKey < ordered[j].PubKey
	})

	seen := make(map[string]struct{}, len(ordered))
	used := bitset.New(uint(minerCount))
	out := make([]OrderAssignment, 0, len(ordered))

	for _, p := range ordered {
		if _, dup := seen[p.PubKey]; dup {
			return nil, Malformedf("duplicate proposal for miner %x", p.PubKey)
		}
		seen[p.PubKey] = struct{}{}

		assigned, err := ResolveOrderConflict(used, p.Order, minerCount)
		if err != nil {
			return nil, err
		}
		out = append(out, OrderAssignment{PubKey: p.PubKey, Order: assigned})
	}

	return out, nil
}
