package dpconsensus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rotor-engine/rotor/dphash"
	"github.com/rotor-engine/rotor/dptime"
)

// Bounds on the per-round mining interval.
// The upper bound keeps order * interval products
// far away from int64 overflow when narrowed for arithmetic.
const (
	MinMiningIntervalMS = int64(1)
	MaxMiningIntervalMS = int64(24 * 60 * 60 * 1000)
)

// Round is the authoritative description of one leader-rotation epoch:
// which miners may produce blocks, in which order, and at which times.
//
// A Round is created by round generation, mutated in place by the engine
// while the round is live, and superseded by the next Round at transition.
type Round struct {
	// RoundNumber increases by exactly 1 on every round transition,
	// including term transitions.
	RoundNumber uint64

	// TermNumber identifies the election epoch.
	// It changes only on a term transition.
	TermNumber uint64

	// MiningIntervalMS is the width of each miner's time slot.
	// It is identical for every slot in the round.
	MiningIntervalMS int64

	// ConfirmedIrreversibleHeight and ConfirmedIrreversibleRoundNumber
	// record the last irreversible block adopted so far.
	// Both are non-decreasing across rounds and are updated only
	// by the irreversibility calculator, never by round generation.
	ConfirmedIrreversibleHeight      uint64
	ConfirmedIrreversibleRoundNumber uint64

	// ExtraBlockProducer is the miner assigned to produce this round's
	// terminating extra block, and thereby to trigger the next round
	// transition if no ordinary slot miner does so in time.
	// Empty only for rounds constructed before the concept applies.
	ExtraBlockProducer string

	// IsMinerListChanged is set when this round was generated with a
	// different miner list than its predecessor (term transition or
	// miner replacement). Secret-sharing seeding is skipped for such
	// rounds, since there are no valid previous-round in-values.
	IsMinerListChanged bool

	// Slots holds one entry per authorized miner of this round,
	// keyed by the miner's marshaled public key.
	Slots map[string]*MinerSlot
}

// MinerCount returns the number of authorized miners in the round.
func (r *Round) MinerCount() int {
	return len(r.Slots)
}

// OrderedSlots returns the round's slots sorted by ascending order.
func (r *Round) OrderedSlots() []*MinerSlot {
	out := make([]*MinerSlot, 0, len(r.Slots))
	for _, s := range r.Slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// SlotByOrder returns the slot with the given order, or nil.
func (r *Round) SlotByOrder(order int) *MinerSlot {
	for _, s := range r.Slots {
		if s.Order == order {
			return s
		}
	}
	return nil
}

// FirstSlot returns the slot with order 1.
// It returns nil only for a structurally invalid round.
func (r *Round) FirstSlot() *MinerSlot {
	return r.SlotByOrder(1)
}

// RoundStartTime returns the instant the round's schedule began:
// one interval before the first slot's expected mining time.
func (r *Round) RoundStartTime() dptime.Timestamp {
	first := r.FirstSlot()
	if first == nil {
		return 0
	}
	return first.ExpectedMiningTime.Add(-r.MiningIntervalMS)
}

// ExpectedEndTime returns the instant the last ordinary slot's window closes,
// which is also when the extra block producer's window opens.
func (r *Round) ExpectedEndTime() dptime.Timestamp {
	last := r.SlotByOrder(len(r.Slots))
	if last == nil {
		return 0
	}
	return last.ExpectedMiningTime.Add(r.MiningIntervalMS)
}

// ArrangeAbnormalMiningTime returns the earliest time at which the given
// miner may legally produce a block outside its own slot, used to accept
// late round-terminating blocks. The extra block producer goes first,
// one interval after the round's expected end; every other miner is
// scheduled behind it by its own order.
func (r *Round) ArrangeAbnormalMiningTime(pubKey string) dptime.Timestamp {
	end := r.ExpectedEndTime()
	if pubKey == r.ExtraBlockProducer {
		return end
	}
	s, ok := r.Slots[pubKey]
	if !ok {
		return 0
	}
	return end.Add(int64(s.Order) * r.MiningIntervalMS)
}

// MinedMinerCount returns how many miners produced at least one block
// this round.
func (r *Round) MinedMinerCount() int {
	n := 0
	for _, s := range r.Slots {
		if s.HasMined() {
			n++
		}
	}
	return n
}

// MinedBlockCount returns the sum of produced block counters across
// all slots. This is the read interface reward distribution consumes;
// the consensus core itself never mints or transfers value.
func (r *Round) MinedBlockCount() uint64 {
	var n uint64
	for _, s := range r.Slots {
		n += s.ProducedBlocks
	}
	return n
}

// Clone returns a deep copy of the round.
// Proposals handed to validation must never alias stored state.
func (r *Round) Clone() *Round {
	out := *r
	out.Slots = make(map[string]*MinerSlot, len(r.Slots))
	for k, s := range r.Slots {
		out.Slots[k] = s.Clone()
	}
	return &out
}

// Hash computes a deterministic digest of the round's identity and
// per-slot consensus contributions, suitable for caching and comparison.
func (r *Round) Hash(scheme dphash.Scheme) dphash.Hash {
	var buf bytes.Buffer

	var u64 [8]byte
	writeU64 := func(v uint64) {
		binary.BigEndian.PutUint64(u64[:], v)
		buf.Write(u64[:])
	}

	writeU64(r.RoundNumber)
	writeU64(r.TermNumber)
	writeU64(uint64(r.MiningIntervalMS))
	writeU64(r.ConfirmedIrreversibleHeight)
	writeU64(r.ConfirmedIrreversibleRoundNumber)
	buf.WriteString(r.ExtraBlockProducer)
	if r.IsMinerListChanged {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	writeShares := func(m map[string][]byte) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeU64(uint64(len(keys)))
		for _, k := range keys {
			buf.WriteString(k)
			writeU64(uint64(len(m[k])))
			buf.Write(m[k])
		}
	}

	// Every field is covered so proposal comparison by hash equality
	// leaves nothing for a proposer to smuggle past validation.
	for _, s := range r.OrderedSlots() {
		buf.WriteString(s.PubKey)
		writeU64(uint64(s.Order))
		writeU64(uint64(s.ExpectedMiningTime))
		buf.Write(s.OutValue[:])
		buf.Write(s.InValueOfPreviousRound[:])
		buf.Write(s.Signature[:])
		writeU64(uint64(s.SupposedNextOrder))
		writeU64(uint64(s.FinalNextOrder))
		writeU64(s.ImpliedIrreversibleHeight)
		writeU64(s.ProducedBlocks)
		writeU64(s.ProducedTinyBlocks)
		writeU64(s.MissedSlots)
		writeU64(uint64(len(s.ActualMiningTimes)))
		for _, ts := range s.ActualMiningTimes {
			writeU64(uint64(ts))
		}
		writeShares(s.EncryptedShares)
		writeShares(s.DecryptedShares)
	}

	return scheme.Compute(buf.Bytes())
}

// CheckStructure verifies every structural invariant of the round.
// A nil return means the round is structurally sound.
//
// Callers decide severity: for a remote proposal a violation is a
// boundary rejection, while for a locally stored round it is fatal
// corruption (see [ErrCorruptRound]).
func (r *Round) CheckStructure() error {
	if r == nil {
		return Malformedf("round is missing")
	}
	if r.RoundNumber == 0 {
		return Malformedf("round number must be positive")
	}
	if r.TermNumber == 0 {
		return Malformedf("term number must be positive")
	}
	if r.MiningIntervalMS < MinMiningIntervalMS || r.MiningIntervalMS > MaxMiningIntervalMS {
		return Malformedf(
			"mining interval %dms outside [%d, %d]",
			r.MiningIntervalMS, MinMiningIntervalMS, MaxMiningIntervalMS,
		)
	}
	n := len(r.Slots)
	if n == 0 {
		return Malformedf("round has no miner slots")
	}

	// Exactly one order value per integer in [1, n],
	// with expected mining times exactly one interval apart.
	byOrder := make([]*MinerSlot, n+1)
	finalOrdersSeen := make(map[int]string, n)
	for pk, s := range r.Slots {
		if s == nil {
			return Malformedf("slot for %x is missing", pk)
		}
		if s.PubKey != pk {
			return Malformedf("slot key mismatch: stored under %x but claims %x", pk, s.PubKey)
		}
		if s.Order < 1 || s.Order > n {
			return Malformedf("order %d outside [1, %d]", s.Order, n)
		}
		if byOrder[s.Order] != nil {
			return Malformedf("duplicate order %d", s.Order)
		}
		byOrder[s.Order] = s

		if s.SupposedNextOrder < 0 || s.SupposedNextOrder > n {
			return Malformedf("supposed next order %d outside [0, %d]", s.SupposedNextOrder, n)
		}
		if s.FinalNextOrder < 0 || s.FinalNextOrder > n {
			return Malformedf("final next order %d outside [0, %d]", s.FinalNextOrder, n)
		}
		if s.FinalNextOrder != 0 {
			if other, ok := finalOrdersSeen[s.FinalNextOrder]; ok {
				return Malformedf(
					"final next order %d assigned to both %x and %x",
					s.FinalNextOrder, other, pk,
				)
			}
			finalOrdersSeen[s.FinalNextOrder] = pk
		}
		if s.HasMined() && s.Signature.IsZero() {
			return Malformedf("miner %x mined without a signature", pk)
		}

		for i := 1; i < len(s.ActualMiningTimes); i++ {
			if s.ActualMiningTimes[i].Before(s.ActualMiningTimes[i-1]) {
				return Malformedf("actual mining times for %x are not non-decreasing", pk)
			}
		}
	}

	for order := 2; order <= n; order++ {
		gap := byOrder[order].ExpectedMiningTime.Sub(byOrder[order-1].ExpectedMiningTime)
		if gap != r.MiningIntervalMS {
			return Malformedf(
				"expected mining time gap between orders %d and %d is %dms, want exactly %dms",
				order-1, order, gap, r.MiningIntervalMS,
			)
		}
	}

	return nil
}

// CheckStored wraps a structure violation of locally stored state
// as fatal corruption.
func (r *Round) CheckStored() error {
	if err := r.CheckStructure(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRound, err)
	}
	return nil
}
