package dphash_test

import (
	"testing"

	"github.com/rotor-engine/rotor/dphash"
	"github.com/stretchr/testify/require"
)

func TestFromBytes_LengthChecked(t *testing.T) {
	t.Parallel()

	_, err := dphash.FromBytes(make([]byte, 31))
	require.Error(t, err)

	_, err = dphash.FromBytes(make([]byte, 33))
	require.Error(t, err)

	h, err := dphash.FromBytes(make([]byte, 32))
	require.NoError(t, err)
	require.True(t, h.IsZero())
}

func TestHash_IsZero(t *testing.T) {
	t.Parallel()

	var zero dphash.Hash
	require.True(t, zero.IsZero())

	h := dphash.Blake2bScheme{}.Compute([]byte("x"))
	require.False(t, h.IsZero())
}

func TestBlake2bScheme_Deterministic(t *testing.T) {
	t.Parallel()

	s := dphash.Blake2bScheme{}

	a := s.Compute([]byte("in value"))
	b := s.Compute([]byte("in value"))
	require.Equal(t, a, b)

	c := s.Compute([]byte("other value"))
	require.NotEqual(t, a, c)
}

func TestBlake2bScheme_ConcatCompute(t *testing.T) {
	t.Parallel()

	s := dphash.Blake2bScheme{}

	a := s.Compute([]byte("a"))
	b := s.Compute([]byte("b"))

	ab := s.ConcatCompute(a, b)
	ba := s.ConcatCompute(b, a)
	require.NotEqual(t, ab, ba)

	// Concatenation must match hashing the joined bytes directly.
	joined := append(a.Bytes(), b.Bytes()...)
	require.Equal(t, s.Compute(joined), ab)
}
