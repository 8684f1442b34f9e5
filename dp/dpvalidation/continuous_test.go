package dpvalidation_test

import (
	"testing"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpconsensus/dpconsensustest"
	"github.com/rotor-engine/rotor/dp/dpvalidation"
	"github.com/rotor-engine/rotor/dptime"
	"github.com/stretchr/testify/require"
)

func TestContinuousTracker_DecrementsWithinSlot(t *testing.T) {
	t.Parallel()

	var tr dpvalidation.ContinuousTracker

	require.Equal(t, 3, tr.Observe("a", 4))
	require.Equal(t, 2, tr.Observe("a", 4))
	require.Equal(t, 1, tr.Observe("a", 4))
	require.Equal(t, 0, tr.Observe("a", 4))
	require.Equal(t, -1, tr.Observe("a", 4))
}

func TestContinuousTracker_ResetsOnMinerChange(t *testing.T) {
	t.Parallel()

	var tr dpvalidation.ContinuousTracker

	tr.Observe("a", 4)
	tr.Observe("a", 4)
	require.Equal(t, 3, tr.Observe("b", 4))
}

func TestContinuousTracker_ResetsOnLimitChange(t *testing.T) {
	t.Parallel()

	var tr dpvalidation.ContinuousTracker

	// A miner deep into a large budget...
	for range 6 {
		tr.Observe("a", 8)
	}
	require.Equal(t, 1, tr.Peek("a", 8))

	// ...gets exactly limit-1 when an emergency limit kicks in,
	// not a decrement of the stale counter.
	require.Equal(t, 1, tr.Observe("a", 2))
	require.Equal(t, 0, tr.Observe("a", 2))
	require.Equal(t, -1, tr.Peek("a", 2))
}

func TestContinuousBlocks_RejectsWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(3)
	r := fx.FirstRound(dptime.Timestamp(1_000_000))
	v := dpvalidation.ContinuousBlocksValidator{}

	vctx := newContext(fx, r, 0)
	vctx.SlotLimit = 2
	vctx.Behavior = dpconsensus.TinyBlock{}

	require.NoError(t, v.Validate(vctx))
	vctx.Tiny.Observe(vctx.Sender, vctx.SlotLimit)

	require.NoError(t, v.Validate(vctx))
	vctx.Tiny.Observe(vctx.Sender, vctx.SlotLimit)

	err := v.Validate(vctx)
	require.Error(t, err)
	require.True(t, dpvalidation.IsRejection(err))
}

func TestContinuousBlocks_RejectsNonPositiveLimit(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(3)
	r := fx.FirstRound(dptime.Timestamp(1_000_000))

	vctx := newContext(fx, r, 0)
	vctx.SlotLimit = 0
	vctx.Behavior = dpconsensus.TinyBlock{}

	err := dpvalidation.ContinuousBlocksValidator{}.Validate(vctx)
	require.Error(t, err)
}
