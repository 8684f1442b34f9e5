package dpconsensus_test

import (
	"testing"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpconsensus/dpconsensustest"
	"github.com/rotor-engine/rotor/dptime"
	"github.com/stretchr/testify/require"
)

func TestMinimumReportCount(t *testing.T) {
	t.Parallel()

	cases := []struct{ n, want int }{
		{1, 1},
		{3, 2},
		{4, 3},
		{5, 4},
		{6, 4},
		{7, 5},
		{9, 6},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, dpconsensus.MinimumReportCount(tc.n), "n=%d", tc.n)
	}

	require.Zero(t, dpconsensus.MinimumReportCount(0))
	require.Zero(t, dpconsensus.MinimumReportCount(-1))
}

// minedRounds builds two consecutive rounds where the miners at the given
// indices mined the current round reporting the paired implied heights.
func minedRounds(t *testing.T, fx *dpconsensustest.Fixture, reports map[int]uint64) (current, previous *dpconsensus.Round) {
	t.Helper()

	start := dptime.Timestamp(1_000_000)
	previous = fx.FirstRound(start)

	var err error
	current, err = dpconsensus.GenerateNextRound(previous, start.Add(int64(len(fx.Miners)+2)*fx.IntervalMS))
	require.NoError(t, err)

	for i, h := range reports {
		fx.MineSlot(current, i, current.Slots[fx.Miners[i].PubKey].ExpectedMiningTime, h)
	}
	return current, previous
}

// Scenario: 7 miners, 5 reports [100..104], quorum 5:
// candidate = sorted[(5-1)/3] = sorted[1] = 101.
func TestComputeIrreversible_QuorumCandidate(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(7)
	current, previous := minedRounds(t, fx, map[int]uint64{
		0: 100, 1: 101, 2: 102, 3: 103, 4: 104,
	})

	h, ok := dpconsensus.ComputeIrreversible(current, previous, 1000)
	require.True(t, ok)
	require.Equal(t, uint64(101), h)
}

func TestComputeIrreversible_BelowQuorum(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(7)
	current, previous := minedRounds(t, fx, map[int]uint64{
		0: 100, 1: 101, 2: 102, 3: 103,
	})

	_, ok := dpconsensus.ComputeIrreversible(current, previous, 1000)
	require.False(t, ok)
}

func TestComputeIrreversible_RejectsFutureHeight(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(7)
	current, previous := minedRounds(t, fx, map[int]uint64{
		0: 100, 1: 101, 2: 102, 3: 103, 4: 104,
	})

	// The candidate (101) would describe the future relative to a node
	// whose chain tip is behind it; such a candidate is never adopted.
	_, ok := dpconsensus.ComputeIrreversible(current, previous, 100)
	require.False(t, ok)
}

func TestComputeIrreversible_Monotonic(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(7)
	current, previous := minedRounds(t, fx, map[int]uint64{
		0: 100, 1: 101, 2: 102, 3: 103, 4: 104,
	})

	current.ConfirmedIrreversibleHeight = 101
	_, ok := dpconsensus.ComputeIrreversible(current, previous, 1000)
	require.False(t, ok, "equal candidate is not an update")

	current.ConfirmedIrreversibleHeight = 150
	_, ok = dpconsensus.ComputeIrreversible(current, previous, 1000)
	require.False(t, ok, "lower candidate is never adopted")

	current.ConfirmedIrreversibleHeight = 50
	h, ok := dpconsensus.ComputeIrreversible(current, previous, 1000)
	require.True(t, ok)
	require.Equal(t, uint64(101), h)
}

func TestComputeIrreversible_IgnoresZeroReports(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(4)
	current, previous := minedRounds(t, fx, map[int]uint64{
		0: 10, 1: 11, 2: 0, 3: 12,
	})

	// Only three nonzero reports against a quorum of three.
	h, ok := dpconsensus.ComputeIrreversible(current, previous, 1000)
	require.True(t, ok)
	require.Equal(t, uint64(10), h)
}

func TestComputeIrreversible_NilRounds(t *testing.T) {
	t.Parallel()

	fx := dpconsensustest.NewFixture(3)
	r := fx.FirstRound(0)

	_, ok := dpconsensus.ComputeIrreversible(nil, r, 10)
	require.False(t, ok)
	_, ok = dpconsensus.ComputeIrreversible(r, nil, 10)
	require.False(t, ok)
}
