package dpconsensustest

import (
	"fmt"
	"sort"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dpcrypto"
	"github.com/rotor-engine/rotor/dpcrypto/dpcryptotest"
	"github.com/rotor-engine/rotor/dphash"
	"github.com/rotor-engine/rotor/dptime"
)

// Miner pairs a deterministic signer with its consensus identity string.
type Miner struct {
	Signer dpcrypto.Ed25519Signer

	// PubKey is string(Signer.PubKey().PubKeyBytes()),
	// the key under which the miner appears in Round.Slots.
	PubKey string
}

// Fixture provides deterministic miners and helpers for assembling
// rounds in the states the consensus tests need.
//
// Miners are sorted by identity so that Miners[i] has a stable meaning
// across test runs.
type Fixture struct {
	Miners []Miner

	Scheme     dphash.Scheme
	IntervalMS int64
}

// NewFixture returns a fixture with n deterministic miners
// and a 4000ms mining interval.
func NewFixture(n int) *Fixture {
	signers := dpcryptotest.DeterministicEd25519Signers(n)

	miners := make([]Miner, n)
	for i, s := range signers {
		miners[i] = Miner{
			Signer: s,
			PubKey: string(s.PubKey().PubKeyBytes()),
		}
	}
	sort.Slice(miners, func(i, j int) bool { return miners[i].PubKey < miners[j].PubKey })

	return &Fixture{
		Miners:     miners,
		Scheme:     dphash.Blake2bScheme{},
		IntervalMS: 4000,
	}
}

// PubKeys returns the miner identities in fixture order.
func (f *Fixture) PubKeys() []string {
	out := make([]string, len(f.Miners))
	for i, m := range f.Miners {
		out[i] = m.PubKey
	}
	return out
}

// FirstRound generates round 1 of term 1 starting at the given time.
func (f *Fixture) FirstRound(start dptime.Timestamp) *dpconsensus.Round {
	r, err := dpconsensus.GenerateFirstRound(f.PubKeys(), f.IntervalMS, start, 1, 1, f.Scheme)
	if err != nil {
		panic(fmt.Errorf("fixture first round: %w", err))
	}
	return r
}

// InValue returns the deterministic secret in-value miner i would use
// in the given round.
func (f *Fixture) InValue(roundNumber uint64, i int) dphash.Hash {
	return f.Scheme.Compute([]byte(fmt.Sprintf("in-value:%d:%x", roundNumber, f.Miners[i].PubKey)))
}

// PublishValuePayload builds the PublishValue behavior miner i would
// broadcast for round r, revealing its previous-round in-value when
// prevRoundNumber is nonzero.
func (f *Fixture) PublishValuePayload(
	r *dpconsensus.Round,
	i int,
	prevRoundNumber uint64,
	impliedHeight uint64,
) dpconsensus.PublishValue {
	in := f.InValue(r.RoundNumber, i)
	out := f.Scheme.Compute(in.Bytes())

	var prevIn dphash.Hash
	if prevRoundNumber != 0 {
		prevIn = f.InValue(prevRoundNumber, i)
	}

	return dpconsensus.PublishValue{
		OutValue:                  out,
		Signature:                 f.Scheme.ConcatCompute(out, in),
		PreviousInValue:           prevIn,
		ImpliedIrreversibleHeight: impliedHeight,
	}
}

// MineSlot marks miner i as having mined round r at time at,
// filling the slot the way the engine would after an accepted
// PublishValue, including next-round order resolution against
// the orders already claimed in the round.
func (f *Fixture) MineSlot(r *dpconsensus.Round, i int, at dptime.Timestamp, impliedHeight uint64) {
	pv := f.PublishValuePayload(r, i, 0, impliedHeight)

	slot := r.Slots[f.Miners[i].PubKey]
	slot.OutValue = pv.OutValue
	slot.Signature = pv.Signature
	slot.ActualMiningTimes = append(slot.ActualMiningTimes, at)
	slot.ProducedBlocks++
	slot.ImpliedIrreversibleHeight = impliedHeight

	supposed, err := dpconsensus.ProposeOrder(pv.Signature, len(r.Slots))
	if err != nil {
		panic(fmt.Errorf("fixture propose order: %w", err))
	}
	slot.SupposedNextOrder = supposed

	slot.FinalNextOrder = supposed
	for taken := f.takenNextOrders(r, slot.PubKey); taken[slot.FinalNextOrder]; {
		slot.FinalNextOrder = slot.FinalNextOrder%len(r.Slots) + 1
	}
}

func (f *Fixture) takenNextOrders(r *dpconsensus.Round, except string) map[int]bool {
	taken := make(map[int]bool)
	for pk, s := range r.Slots {
		if pk != except && s.FinalNextOrder != 0 {
			taken[s.FinalNextOrder] = true
		}
	}
	return taken
}
