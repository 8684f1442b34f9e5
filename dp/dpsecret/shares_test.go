package dpsecret_test

import (
	"testing"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpsecret"
	"github.com/rotor-engine/rotor/dphash"
	"github.com/stretchr/testify/require"
)

func TestSplitInValue_ShareCount(t *testing.T) {
	t.Parallel()

	in := dphash.Blake2bScheme{}.Compute([]byte("secret"))

	for _, n := range []int{1, 2, 3, 5, 7, 17} {
		shares, err := dpsecret.SplitInValue(in, n)
		require.NoError(t, err, "n=%d", n)

		require.Len(t, shares, n, "n=%d", n)
	}

	_, err := dpsecret.SplitInValue(in, 0)
	require.Error(t, err)
}

func TestReconstructInValue_QuorumSuffices(t *testing.T) {
	t.Parallel()

	const n = 7
	in := dphash.Blake2bScheme{}.Compute([]byte("round 9 in-value"))

	shares, err := dpsecret.SplitInValue(in, n)
	require.NoError(t, err)

	quorum := dpconsensus.MinimumReportCount(n) // 5

	// Any quorum-sized subset reconstructs the value.
	subset := map[int][]byte{
		0: shares[0],
		2: shares[2],
		3: shares[3],
		5: shares[5],
		6: shares[6],
	}
	require.Len(t, subset, quorum)

	got, err := dpsecret.ReconstructInValue(subset, n)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestReconstructInValue_ParityOnlySubset(t *testing.T) {
	t.Parallel()

	const n = 7
	in := dphash.Blake2bScheme{}.Compute([]byte("another in-value"))

	shares, err := dpsecret.SplitInValue(in, n)
	require.NoError(t, err)

	// Drop two data shards; parity shards fill in.
	subset := make(map[int][]byte)
	for i := 2; i < n; i++ {
		subset[i] = shares[i]
	}

	got, err := dpsecret.ReconstructInValue(subset, n)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestReconstructInValue_BelowQuorumFails(t *testing.T) {
	t.Parallel()

	const n = 7
	in := dphash.Blake2bScheme{}.Compute([]byte("sparse"))

	shares, err := dpsecret.SplitInValue(in, n)
	require.NoError(t, err)

	subset := map[int][]byte{0: shares[0], 1: shares[1], 2: shares[2], 3: shares[3]}
	_, err = dpsecret.ReconstructInValue(subset, n)
	require.Error(t, err)
}

func TestReconstructInValue_DegenerateSetsNeedEveryShare(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2} {
		in := dphash.Blake2bScheme{}.Compute([]byte("tiny network"))

		shares, err := dpsecret.SplitInValue(in, n)
		require.NoError(t, err, "n=%d", n)

		full := make(map[int][]byte, n)
		for i, s := range shares {
			full[i] = s
		}
		got, err := dpsecret.ReconstructInValue(full, n)
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, in, got, "n=%d", n)

		if n > 1 {
			delete(full, 0)
			_, err = dpsecret.ReconstructInValue(full, n)
			require.Error(t, err, "n=%d", n)
		}
	}
}

func TestReconstructInValue_RejectsBadIndex(t *testing.T) {
	t.Parallel()

	in := dphash.Blake2bScheme{}.Compute([]byte("x"))
	shares, err := dpsecret.SplitInValue(in, 4)
	require.NoError(t, err)

	_, err = dpsecret.ReconstructInValue(map[int][]byte{9: shares[0]}, 4)
	require.Error(t, err)
	require.True(t, dpconsensus.IsMalformed(err))
}
