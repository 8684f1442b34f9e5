package dpengine_test

import (
	"context"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpconsensus/dpconsensustest"
	"github.com/rotor-engine/rotor/dp/dpengine"
	"github.com/rotor-engine/rotor/dp/dpstore/dpmemstore"
	"github.com/rotor-engine/rotor/dp/dpvalidation"
	"github.com/rotor-engine/rotor/dptime"
)

// harness wires an engine against an in-memory store seeded with the
// fixture's first round, with a manually advanced clock.
type harness struct {
	fx    *dpconsensustest.Fixture
	store *dpmemstore.RoundStore
	eng   *dpengine.Engine

	now    dptime.Timestamp
	height uint64

	irreversible []dpengine.IrreversibleUpdate
	replaced     []dpengine.MinerReplacement
}

func newHarness(t *testing.T, ctx context.Context, n int, mutate func(*dpengine.Config)) *harness {
	t.Helper()

	h := &harness{
		fx:     dpconsensustest.NewFixture(n),
		store:  dpmemstore.NewRoundStore(),
		now:    dptime.Timestamp(1_000_000),
		height: 100,
	}

	r := h.fx.FirstRound(h.now)
	require.NoError(t, h.store.SaveRound(ctx, r))

	cfg := dpengine.Config{
		Store:       h.store,
		HashScheme:  h.fx.Scheme,
		Clock:       func() dptime.Timestamp { return h.now },
		LocalHeight: func() uint64 { return h.height },
		OnIrreversibleUpdated: func(u dpengine.IrreversibleUpdate) {
			h.irreversible = append(h.irreversible, u)
		},
		OnMinerReplaced: func(m dpengine.MinerReplacement) {
			h.replaced = append(h.replaced, m)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	eng, err := dpengine.New(ctx, slogt.New(t), cfg)
	require.NoError(t, err)
	h.eng = eng
	return h
}

// minerAt returns the fixture index of the miner holding the given
// order in the round.
func (h *harness) minerAt(t *testing.T, r *dpconsensus.Round, order int) int {
	t.Helper()

	slot := r.SlotByOrder(order)
	require.NotNil(t, slot)
	for i, m := range h.fx.Miners {
		if m.PubKey == slot.PubKey {
			return i
		}
	}
	t.Fatalf("no fixture miner holds order %d", order)
	return -1
}

// publish applies miner i's first block of the current round,
// advancing the clock into the miner's slot.
func (h *harness) publish(t *testing.T, ctx context.Context, prevRoundNumber, impliedHeight uint64, i int) {
	t.Helper()

	r, err := h.eng.CurrentRound(ctx)
	require.NoError(t, err)

	h.now = r.Slots[h.fx.Miners[i].PubKey].ExpectedMiningTime
	require.NoError(t, h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: h.fx.Miners[i].PubKey,
		Behavior: h.fx.PublishValuePayload(r, i, prevRoundNumber, impliedHeight),
	}))
}

// transition builds and applies the engine's own round transition
// proposal, produced by the superseded round's extra block producer.
func (h *harness) transition(t *testing.T, ctx context.Context) {
	t.Helper()

	r, err := h.eng.CurrentRound(ctx)
	require.NoError(t, err)

	// Past every termination window.
	h.now = r.ExpectedEndTime().Add(r.MiningIntervalMS * int64(r.MinerCount()+1))

	b, err := h.eng.BuildTransition(ctx, h.now)
	require.NoError(t, err)
	require.NoError(t, h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: r.ExtraBlockProducer,
		Behavior: b,
	}))
}

func TestNew_RequiresSeedRound(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := dpengine.New(ctx, slogt.New(t), dpengine.Config{
		Store:       dpmemstore.NewRoundStore(),
		HashScheme:  dpconsensustest.NewFixture(1).Scheme,
		LocalHeight: func() uint64 { return 0 },
	})
	require.Error(t, err)
}

func TestApplyBlock_PublishValue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 4, nil)
	h.publish(t, ctx, 0, 10, h.minerAt(t, mustCurrent(t, ctx, h), 1))

	r := mustCurrent(t, ctx, h)
	slot := r.SlotByOrder(1)
	require.True(t, slot.HasMined())
	require.True(t, slot.HasPublishedValue())
	require.False(t, slot.Signature.IsZero())
	require.Equal(t, uint64(1), slot.ProducedBlocks)
	require.Equal(t, uint64(10), slot.ImpliedIrreversibleHeight)
	require.NotZero(t, slot.SupposedNextOrder)
	require.NotZero(t, slot.FinalNextOrder)
	require.Equal(t, []dptime.Timestamp{slot.ExpectedMiningTime}, slot.ActualMiningTimes)
}

func TestApplyBlock_RejectsOutsideSlot(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 4, nil)
	r := mustCurrent(t, ctx, h)
	i := h.minerAt(t, r, 2)

	// One millisecond before the slot opens.
	h.now = r.Slots[h.fx.Miners[i].PubKey].ExpectedMiningTime.Add(-1)
	err := h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: h.fx.Miners[i].PubKey,
		Behavior: h.fx.PublishValuePayload(r, i, 0, 10),
	})
	require.Error(t, err)
	require.True(t, dpvalidation.IsRejection(err))

	// The stored round is untouched.
	after := mustCurrent(t, ctx, h)
	require.False(t, after.SlotByOrder(2).HasMined())
}

func TestApplyBlock_TinyBlockBudget(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 4, func(cfg *dpengine.Config) {
		cfg.SlotLimit = 3
	})
	r := mustCurrent(t, ctx, h)
	i := h.minerAt(t, r, 1)
	pk := h.fx.Miners[i].PubKey

	h.publish(t, ctx, 0, 10, i)

	// The publish consumed one unit; two tiny blocks fit.
	for range 2 {
		h.now = h.now.Add(1)
		require.NoError(t, h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
			Producer: pk,
			Behavior: dpconsensus.TinyBlock{},
		}))
	}

	h.now = h.now.Add(1)
	err := h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: pk,
		Behavior: dpconsensus.TinyBlock{},
	})
	require.Error(t, err)
	require.True(t, dpvalidation.IsRejection(err))

	r = mustCurrent(t, ctx, h)
	require.Equal(t, uint64(2), r.Slots[pk].ProducedTinyBlocks)
	require.Equal(t, uint64(3), r.MinedBlockCount())
}

func TestApplyBlock_SlotBudgetResetsAtRoundTransition(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 2, func(cfg *dpengine.Config) {
		cfg.SlotLimit = 2
	})

	first := mustCurrent(t, ctx, h)
	i := h.minerAt(t, first, 2)
	pk := h.fx.Miners[i].PubKey

	h.publish(t, ctx, 0, 10, h.minerAt(t, first, 1))

	// The miner's publish plus one tiny block exhausts its slot.
	h.publish(t, ctx, 0, 10, i)
	h.now = h.now.Add(1)
	require.NoError(t, h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: pk,
		Behavior: dpconsensus.TinyBlock{},
	}))

	h.now = h.now.Add(1)
	err := h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: pk,
		Behavior: dpconsensus.TinyBlock{},
	})
	require.Error(t, err)
	require.True(t, dpvalidation.IsRejection(err))

	h.transition(t, ctx)

	// The next round hands every miner a fresh slot; the first block of
	// the miner that just ran dry must be accepted.
	r2 := mustCurrent(t, ctx, h)
	require.Equal(t, uint64(2), r2.RoundNumber)

	h.publish(t, ctx, 1, 10, i)

	r2 = mustCurrent(t, ctx, h)
	require.Equal(t, uint64(1), r2.Slots[pk].ProducedBlocks)
}

func TestApplyBlock_RoundTransition(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 4, nil)
	first := mustCurrent(t, ctx, h)

	for order := 1; order <= 4; order++ {
		h.publish(t, ctx, 0, 10, h.minerAt(t, first, order))
	}

	h.transition(t, ctx)

	r := mustCurrent(t, ctx, h)
	require.Equal(t, uint64(2), r.RoundNumber)
	require.Equal(t, uint64(1), r.TermNumber)

	// Everyone mined, so everyone keeps the order they resolved.
	mined := mustRound(t, ctx, h, 1)
	for pk, s := range mined.Slots {
		require.Equal(t, s.FinalNextOrder, r.Slots[pk].Order, "miner %x", pk)
		require.Zero(t, r.Slots[pk].MissedSlots)
	}
}

func TestApplyBlock_IrreversibleAdoption(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 4, nil)
	first := mustCurrent(t, ctx, h)

	for order := 1; order <= 4; order++ {
		h.publish(t, ctx, 0, 0, h.minerAt(t, first, order))
	}
	require.Empty(t, h.irreversible)

	h.transition(t, ctx)

	// Round 2: reports 10, 11, 12, 13 arrive one slot at a time.
	r2 := mustCurrent(t, ctx, h)
	reports := []uint64{10, 11, 12, 13}
	for order := 1; order <= 4; order++ {
		h.publish(t, ctx, 1, reports[order-1], h.minerAt(t, r2, order))
	}

	// Quorum of 3 adopts sorted[(3-1)/3] = 10,
	// the fourth report advances it to sorted[(4-1)/3] = 11.
	require.Len(t, h.irreversible, 2)
	require.Equal(t, uint64(10), h.irreversible[0].Height)
	require.Equal(t, uint64(11), h.irreversible[1].Height)

	r := mustCurrent(t, ctx, h)
	require.Equal(t, uint64(11), r.ConfirmedIrreversibleHeight)
	require.Equal(t, uint64(2), r.ConfirmedIrreversibleRoundNumber)

	info, err := h.eng.CurrentRoundInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), info.IrreversibleHeight)
	require.Equal(t, 4, info.MinedMinerCount)
}

func TestApplyBlock_HistoryPruning(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 3, func(cfg *dpengine.Config) {
		cfg.HistoryRounds = 1
	})

	h.transition(t, ctx) // round 2
	h.transition(t, ctx) // round 3, prunes round 1

	_, err := h.eng.Round(ctx, 1)
	require.Error(t, err)

	r, err := h.eng.Round(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), r.RoundNumber)
}

func TestNextBehavior(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 4, nil)
	r := mustCurrent(t, ctx, h)
	i := h.minerAt(t, r, 2)
	pk := h.fx.Miners[i].PubKey
	slot := r.Slots[pk]

	h.now = slot.ExpectedMiningTime.Add(-1)
	a, err := h.eng.NextBehavior(ctx, pk, h.now)
	require.NoError(t, err)
	require.Equal(t, dpengine.ActionWait, a)

	h.now = slot.ExpectedMiningTime
	a, err = h.eng.NextBehavior(ctx, pk, h.now)
	require.NoError(t, err)
	require.Equal(t, dpengine.ActionPublishValue, a)

	h.publish(t, ctx, 0, 10, i)
	a, err = h.eng.NextBehavior(ctx, pk, h.now)
	require.NoError(t, err)
	require.Equal(t, dpengine.ActionTinyBlock, a)

	h.now = r.ArrangeAbnormalMiningTime(pk)
	a, err = h.eng.NextBehavior(ctx, pk, h.now)
	require.NoError(t, err)
	require.Equal(t, dpengine.ActionNextRound, a)

	a, err = h.eng.NextBehavior(ctx, "not a member", h.now)
	require.NoError(t, err)
	require.Equal(t, dpengine.ActionWait, a)
}

func TestGovernance_MiningIntervalBounds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 3, nil)

	for _, ms := range []int64{0, -5, 99, 24*60*60*1000 + 1} {
		require.Error(t, h.eng.SetMiningInterval(ms), "interval %d", ms)
	}
	require.NoError(t, h.eng.SetMiningInterval(100))
	require.NoError(t, h.eng.SetMiningInterval(8000))

	require.Error(t, h.eng.SetMaximumBlocksPerSlot(0))
	require.Error(t, h.eng.SetMaximumBlocksPerSlot(-1))
	require.NoError(t, h.eng.SetMaximumBlocksPerSlot(5))
}

func TestGovernance_IntervalAppliesAtTermBoundary(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 3, func(cfg *dpengine.Config) {
		cfg.TermRounds = 1
		cfg.Election = &stubElection{}
	})

	require.NoError(t, h.eng.SetMiningInterval(8000))
	h.transition(t, ctx)

	r := mustCurrent(t, ctx, h)
	require.Equal(t, uint64(2), r.TermNumber)
	require.Equal(t, uint64(2), r.RoundNumber)
	require.True(t, r.IsMinerListChanged)
	require.Equal(t, int64(8000), r.MiningIntervalMS)
}

func TestApplyBlock_MinerReplacement(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One extra fixture identity acts as the replacement candidate:
	// the miner of the 5-strong fixture absent from the 4-strong one.
	members := make(map[string]bool)
	for _, m := range dpconsensustest.NewFixture(4).Miners {
		members[m.PubKey] = true
	}
	var replacementPK string
	for _, m := range dpconsensustest.NewFixture(5).Miners {
		if !members[m.PubKey] {
			replacementPK = m.PubKey
			break
		}
	}
	require.NotEmpty(t, replacementPK)

	h := newHarness(t, ctx, 4, func(cfg *dpengine.Config) {
		cfg.MissThreshold = 1
		cfg.Election = &stubElection{
			replacements: func(expelled []string) []dpengine.Replacement {
				out := make([]dpengine.Replacement, len(expelled))
				for i, old := range expelled {
					out[i] = dpengine.Replacement{Old: old, New: replacementPK}
				}
				return out
			},
			active: map[string]bool{replacementPK: true},
		}
	})

	first := mustCurrent(t, ctx, h)
	lazy := h.minerAt(t, first, 4)
	lazyPK := h.fx.Miners[lazy].PubKey

	// The lazy miner misses two rounds; everyone else mines.
	for range 2 {
		r := mustCurrent(t, ctx, h)
		for order := 1; order <= 4; order++ {
			i := h.minerAt(t, r, order)
			if h.fx.Miners[i].PubKey == lazyPK {
				continue
			}
			h.publish(t, ctx, 0, 0, i)
		}
		h.transition(t, ctx)
	}

	r := mustCurrent(t, ctx, h)
	require.NotContains(t, r.Slots, lazyPK)
	require.Contains(t, r.Slots, replacementPK)
	require.True(t, r.IsMinerListChanged)
	require.Zero(t, r.Slots[replacementPK].MissedSlots)

	require.Len(t, h.replaced, 1)
	require.Equal(t, lazyPK, h.replaced[0].Old)
	require.Equal(t, replacementPK, h.replaced[0].New)
}

func TestApplyBlock_RejectsBackdatedTransition(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, ctx, 3, nil)
	r := mustCurrent(t, ctx, h)

	// Inside the extra producer's legal termination window,
	// but the proposed schedule starts 900s in the past:
	// every slot of the round would already be expired on arrival.
	h.now = r.ExpectedEndTime()
	backdated, err := dpconsensus.GenerateNextRound(r, h.now.Add(-900_000))
	require.NoError(t, err)

	err = h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: r.ExtraBlockProducer,
		Behavior: dpconsensus.NextRound{ProposedRound: backdated},
	})
	require.Error(t, err)
	require.True(t, dpvalidation.IsRejection(err))
	require.Equal(t, uint64(1), mustCurrent(t, ctx, h).RoundNumber)
}

func TestApplyBlock_ReplacementRoundKeepsTimeSlotChecks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	members := make(map[string]bool)
	for _, m := range dpconsensustest.NewFixture(4).Miners {
		members[m.PubKey] = true
	}
	var replacementPK string
	for _, m := range dpconsensustest.NewFixture(5).Miners {
		if !members[m.PubKey] {
			replacementPK = m.PubKey
			break
		}
	}
	require.NotEmpty(t, replacementPK)

	h := newHarness(t, ctx, 4, func(cfg *dpengine.Config) {
		cfg.MissThreshold = 1
		cfg.Election = &stubElection{
			replacements: func(expelled []string) []dpengine.Replacement {
				out := make([]dpengine.Replacement, len(expelled))
				for i, old := range expelled {
					out[i] = dpengine.Replacement{Old: old, New: replacementPK}
				}
				return out
			},
			active: map[string]bool{replacementPK: true},
		}
	})

	first := mustCurrent(t, ctx, h)
	lazyPK := h.fx.Miners[h.minerAt(t, first, 4)].PubKey

	for range 2 {
		r := mustCurrent(t, ctx, h)
		for order := 1; order <= 4; order++ {
			i := h.minerAt(t, r, order)
			if h.fx.Miners[i].PubKey == lazyPK {
				continue
			}
			h.publish(t, ctx, 0, 0, i)
		}
		h.transition(t, ctx)
	}

	// The mid-term replacement round flags a changed miner list,
	// but its schedule carried over and still binds everyone to
	// their slots.
	r := mustCurrent(t, ctx, h)
	require.True(t, r.IsMinerListChanged)

	var i int
	var slot *dpconsensus.MinerSlot
	for idx, m := range h.fx.Miners {
		if s, ok := r.Slots[m.PubKey]; ok {
			i, slot = idx, s
			break
		}
	}
	require.NotNil(t, slot)

	h.now = slot.ExpectedMiningTime.Add(-1)
	err := h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: h.fx.Miners[i].PubKey,
		Behavior: h.fx.PublishValuePayload(r, i, 0, 10),
	})
	require.Error(t, err)
	require.True(t, dpvalidation.IsRejection(err))

	h.now = slot.ExpectedMiningTime
	require.NoError(t, h.eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: h.fx.Miners[i].PubKey,
		Behavior: h.fx.PublishValuePayload(r, i, 0, 10),
	}))
}

func TestApplyBlock_HaltsOnCorruptRound(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := dpconsensustest.NewFixture(3)
	corrupt := fx.FirstRound(dptime.Timestamp(1_000_000))

	eng, err := dpengine.New(ctx, slogt.New(t), dpengine.Config{
		Store:       corruptStore{r: corrupt},
		HashScheme:  fx.Scheme,
		LocalHeight: func() uint64 { return 100 },
	})
	require.NoError(t, err)

	// Corrupt the round after construction: duplicate orders.
	for _, s := range corrupt.Slots {
		s.Order = 1
	}

	err = eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: fx.Miners[0].PubKey,
		Behavior: dpconsensus.TinyBlock{},
	})
	require.ErrorIs(t, err, dpconsensus.ErrCorruptRound)
	require.True(t, eng.Halted())

	err = eng.ApplyBlock(ctx, dpengine.BlockMetadata{
		Producer: fx.Miners[0].PubKey,
		Behavior: dpconsensus.TinyBlock{},
	})
	require.ErrorIs(t, err, dpengine.ErrHalted)
}

func mustCurrent(t *testing.T, ctx context.Context, h *harness) *dpconsensus.Round {
	t.Helper()

	r, err := h.eng.CurrentRound(ctx)
	require.NoError(t, err)
	return r
}

func mustRound(t *testing.T, ctx context.Context, h *harness, n uint64) *dpconsensus.Round {
	t.Helper()

	r, err := h.eng.Round(ctx, n)
	require.NoError(t, err)
	return r
}

// corruptStore hands out a shared round pointer,
// so the test can corrupt stored state after engine construction.
type corruptStore struct {
	r *dpconsensus.Round
}

func (s corruptStore) SaveRound(context.Context, *dpconsensus.Round) error { return nil }

func (s corruptStore) LoadRound(context.Context, uint64) (*dpconsensus.Round, error) {
	return s.r, nil
}

func (s corruptStore) LoadLatestRound(context.Context) (*dpconsensus.Round, error) {
	return s.r, nil
}

func (s corruptStore) PruneRoundsBelow(context.Context, uint64) error { return nil }

// stubElection is a deterministic in-test election collaborator.
type stubElection struct {
	nextMiners   []string
	replacements func(expelled []string) []dpengine.Replacement
	active       map[string]bool
}

func (s *stubElection) NextTermMiners(_ context.Context, current []string) ([]string, error) {
	if s.nextMiners != nil {
		return s.nextMiners, nil
	}
	return current, nil
}

func (s *stubElection) GetMinerReplacements(_ context.Context, expelled []string) ([]dpengine.Replacement, error) {
	if s.replacements == nil {
		return nil, nil
	}
	return s.replacements(expelled), nil
}

func (s *stubElection) IsCandidateActive(_ context.Context, pubKey string) (bool, error) {
	return s.active[pubKey], nil
}
