package dpstoretest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rotor-engine/rotor/dp/dpconsensus/dpconsensustest"
	"github.com/rotor-engine/rotor/dp/dpstore"
	"github.com/rotor-engine/rotor/dptime"
)

// RoundStoreFactory returns a new empty store for each compliance subtest.
// Implementations backed by external resources should use t.Cleanup
// to release them.
type RoundStoreFactory func(t *testing.T) dpstore.RoundStore

// TestRoundStoreCompliance is the compliance test
// that every [dpstore.RoundStore] implementation must pass.
func TestRoundStoreCompliance(t *testing.T, f RoundStoreFactory) {
	t.Helper()

	fx := dpconsensustest.NewFixture(4)

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := f(t)

		_, err := s.LoadLatestRound(ctx)
		require.ErrorIs(t, err, dpstore.ErrNoRounds)

		_, err = s.LoadRound(ctx, 1)
		require.ErrorAs(t, err, new(dpstore.RoundUnknownError))
	})

	t.Run("save and load round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := f(t)

		r := fx.FirstRound(dptime.Timestamp(1_000_000))
		require.NoError(t, s.SaveRound(ctx, r))

		got, err := s.LoadRound(ctx, r.RoundNumber)
		require.NoError(t, err)
		require.Equal(t, r, got)

		latest, err := s.LoadLatestRound(ctx)
		require.NoError(t, err)
		require.Equal(t, r, latest)
	})

	t.Run("loaded rounds do not share state", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := f(t)

		r := fx.FirstRound(dptime.Timestamp(1_000_000))
		require.NoError(t, s.SaveRound(ctx, r))

		// Mutating the saved value must not affect the store.
		for _, slot := range r.Slots {
			slot.ProducedBlocks = 999
		}

		got, err := s.LoadRound(ctx, r.RoundNumber)
		require.NoError(t, err)
		for _, slot := range got.Slots {
			require.Zero(t, slot.ProducedBlocks)
		}

		// Mutating a loaded value must not affect later loads.
		for _, slot := range got.Slots {
			slot.MissedSlots = 7
		}
		again, err := s.LoadRound(ctx, r.RoundNumber)
		require.NoError(t, err)
		for _, slot := range again.Slots {
			require.Zero(t, slot.MissedSlots)
		}
	})

	t.Run("overwrite same round number", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := f(t)

		r := fx.FirstRound(dptime.Timestamp(1_000_000))
		require.NoError(t, s.SaveRound(ctx, r))

		updated := r.Clone()
		updated.ConfirmedIrreversibleHeight = 42
		require.NoError(t, s.SaveRound(ctx, updated))

		got, err := s.LoadRound(ctx, r.RoundNumber)
		require.NoError(t, err)
		require.Equal(t, uint64(42), got.ConfirmedIrreversibleHeight)
	})

	t.Run("latest tracks highest round number", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := f(t)

		for _, n := range []uint64{3, 1, 2} {
			r := fx.FirstRound(dptime.Timestamp(1_000_000))
			r.RoundNumber = n
			require.NoError(t, s.SaveRound(ctx, r))
		}

		latest, err := s.LoadLatestRound(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(3), latest.RoundNumber)
	})

	t.Run("prune", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := f(t)

		for n := uint64(1); n <= 5; n++ {
			r := fx.FirstRound(dptime.Timestamp(1_000_000))
			r.RoundNumber = n
			require.NoError(t, s.SaveRound(ctx, r))
		}

		require.NoError(t, s.PruneRoundsBelow(ctx, 4))

		_, err := s.LoadRound(ctx, 3)
		require.ErrorAs(t, err, new(dpstore.RoundUnknownError))

		got, err := s.LoadRound(ctx, 4)
		require.NoError(t, err)
		require.Equal(t, uint64(4), got.RoundNumber)

		latest, err := s.LoadLatestRound(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(5), latest.RoundNumber)

		// Pruning numbers that are absent is fine.
		require.NoError(t, s.PruneRoundsBelow(ctx, 4))
	})
}
