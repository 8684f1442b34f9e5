package dpconsensus

import (
	"sort"

	"github.com/rotor-engine/rotor/dphash"
	"github.com/rotor-engine/rotor/dptime"
)

// GenerateFirstRound constructs the opening round of a term from a fresh
// miner list. Orders are assigned by a deterministic shuffle seeded from
// the hash of the full miner list, so every node derives the identical
// schedule without any coordination.
func GenerateFirstRound(
	miners []string,
	intervalMS int64,
	start dptime.Timestamp,
	roundNumber, termNumber uint64,
	scheme dphash.Scheme,
) (*Round, error) {
	if len(miners) == 0 {
		return nil, Malformedf("miner list is empty")
	}
	if intervalMS < MinMiningIntervalMS || intervalMS > MaxMiningIntervalMS {
		return nil, Malformedf(
			"mining interval %dms outside [%d, %d]",
			intervalMS, MinMiningIntervalMS, MaxMiningIntervalMS,
		)
	}
	if roundNumber == 0 || termNumber == 0 {
		return nil, Malformedf("round and term numbers must be positive")
	}

	sorted := make([]string, len(miners))
	copy(sorted, miners)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return nil, Malformedf("duplicate miner %x in list", sorted[i])
		}
	}

	var seedInput []byte
	for _, pk := range sorted {
		seedInput = append(seedInput, pk...)
	}
	seed := scheme.Compute(seedInput)

	// Shuffle by sorting on the per-miner hash of (seed, pubkey).
	type keyed struct {
		pk string
		h  dphash.Hash
	}
	shuffled := make([]keyed, len(sorted))
	for i, pk := range sorted {
		shuffled[i] = keyed{pk: pk, h: scheme.ConcatCompute(seed, scheme.Compute([]byte(pk)))}
	}
	sort.Slice(shuffled, func(i, j int) bool {
		for b := range shuffled[i].h {
			if shuffled[i].h[b] != shuffled[j].h[b] {
				return shuffled[i].h[b] < shuffled[j].h[b]
			}
		}
		return false
	})

	r := &Round{
		RoundNumber:      roundNumber,
		TermNumber:       termNumber,
		MiningIntervalMS: intervalMS,
		Slots:            make(map[string]*MinerSlot, len(shuffled)),
	}
	for i, k := range shuffled {
		order := i + 1
		r.Slots[k.pk] = &MinerSlot{
			PubKey:             k.pk,
			Order:              order,
			ExpectedMiningTime: start.Add(int64(order) * intervalMS),
		}
	}
	r.ExtraBlockProducer = r.FirstSlot().PubKey

	return r, nil
}

// GenerateNextRound derives round N+1 from round N and the current time.
//
// It is pure and deterministic: every node applying it to the same stored
// round and timestamp produces the identical next round, which is what
// allows next-round proposals to be verified by exact recomputation.
//
// A structural violation in the input round is corruption, not remote
// misbehavior; GenerateNextRound refuses to produce output and reports
// [ErrCorruptRound].
func GenerateNextRound(r *Round, now dptime.Timestamp) (*Round, error) {
	if err := r.CheckStored(); err != nil {
		return nil, err
	}

	n := len(r.Slots)
	next := &Round{
		RoundNumber:      r.RoundNumber + 1,
		TermNumber:       r.TermNumber,
		MiningIntervalMS: r.MiningIntervalMS,

		// Irreversibility advances only through the calculator.
		ConfirmedIrreversibleHeight:      r.ConfirmedIrreversibleHeight,
		ConfirmedIrreversibleRoundNumber: r.ConfirmedIrreversibleRoundNumber,

		Slots: make(map[string]*MinerSlot, n),
	}

	// Miners who mined keep the order they resolved for themselves.
	usedOrders := make([]bool, n+1)
	var didNotMine []*MinerSlot
	for _, s := range r.OrderedSlots() {
		if s.FinalNextOrder == 0 {
			didNotMine = append(didNotMine, s)
			continue
		}
		next.Slots[s.PubKey] = carriedSlot(s, s.FinalNextOrder, now, r.MiningIntervalMS, false)
		usedOrders[s.FinalNextOrder] = true
	}

	// Everyone else takes the remaining orders, ascending by identity,
	// and is charged one missed slot.
	sort.Slice(didNotMine, func(i, j int) bool {
		return didNotMine[i].PubKey < didNotMine[j].PubKey
	})
	order := 1
	for _, s := range didNotMine {
		for usedOrders[order] {
			order++
		}
		usedOrders[order] = true
		next.Slots[s.PubKey] = carriedSlot(s, order, now, r.MiningIntervalMS, true)
	}

	next.ExtraBlockProducer = selectExtraBlockProducer(r, next)

	return next, nil
}

// GenerateNextTermRound constructs the opening round of a new term.
// Production counters reset, the miner list may differ from the previous
// round's, and secret-sharing seeding is suppressed for the round.
//
// The mining interval may change at a term boundary, and only there;
// intervalMS is bounds-checked by the underlying first-round generation.
func GenerateNextTermRound(r *Round, miners []string, intervalMS int64, now dptime.Timestamp, scheme dphash.Scheme) (*Round, error) {
	if err := r.CheckStored(); err != nil {
		return nil, err
	}

	next, err := GenerateFirstRound(
		miners, intervalMS, now, r.RoundNumber+1, r.TermNumber+1, scheme,
	)
	if err != nil {
		return nil, err
	}

	next.ConfirmedIrreversibleHeight = r.ConfirmedIrreversibleHeight
	next.ConfirmedIrreversibleRoundNumber = r.ConfirmedIrreversibleRoundNumber
	next.IsMinerListChanged = true

	return next, nil
}

// carriedSlot builds the new round's slot for a continuing miner.
func carriedSlot(s *MinerSlot, order int, now dptime.Timestamp, intervalMS int64, missed bool) *MinerSlot {
	out := &MinerSlot{
		PubKey:             s.PubKey,
		Order:              order,
		ExpectedMiningTime: now.Add(int64(order) * intervalMS),

		ProducedBlocks:     s.ProducedBlocks,
		ProducedTinyBlocks: s.ProducedTinyBlocks,
		MissedSlots:        s.MissedSlots,

		ImpliedIrreversibleHeight: s.ImpliedIrreversibleHeight,
	}
	if missed {
		out.MissedSlots++
	}
	return out
}

// selectExtraBlockProducer picks the new round's extra block producer:
// the previous round's lowest-order miner with a published signature
// contributes that signature to ProposeOrder; the new round's miner at
// the resulting order is selected. If nobody mined, order 1 is used.
func selectExtraBlockProducer(prev, next *Round) string {
	order := 1
	for _, s := range prev.OrderedSlots() {
		if !s.Signature.IsZero() {
			o, err := ProposeOrder(s.Signature, len(next.Slots))
			if err == nil {
				order = o
			}
			break
		}
	}

	slot := next.SlotByOrder(order)
	if slot == nil {
		// Unreachable for a structurally valid next round.
		return ""
	}
	return slot.PubKey
}
