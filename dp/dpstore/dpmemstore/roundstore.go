package dpmemstore

import (
	"context"
	"sync"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpstore"
)

// DefaultRetainedRounds bounds the store when no explicit retention is
// given. It is deliberately generous so the engine's own history
// pruning, which is usually much tighter, decides what survives.
const DefaultRetainedRounds = 64

// RoundStore is an in-memory implementation of [dpstore.RoundStore].
//
// Rounds are deep-copied on the way in and on the way out,
// so callers can never observe or cause shared mutation.
// The store evicts rounds older than its retention on every save,
// so it stays bounded even if the owner never prunes.
type RoundStore struct {
	mu sync.RWMutex

	rounds map[uint64]*dpconsensus.Round
	retain uint64

	// latest is the highest round number ever saved,
	// tracked separately so a pruned store still answers
	// LoadLatestRound without scanning.
	latest    uint64
	hasRounds bool
}

// NewRoundStore returns an empty in-memory round store retaining
// [DefaultRetainedRounds] trailing rounds.
func NewRoundStore() *RoundStore {
	return NewBoundedRoundStore(DefaultRetainedRounds)
}

// NewBoundedRoundStore returns an empty in-memory round store that
// keeps at most the given number of trailing rounds.
func NewBoundedRoundStore(retain uint64) *RoundStore {
	if retain == 0 {
		retain = 1
	}
	return &RoundStore{
		rounds: make(map[uint64]*dpconsensus.Round),
		retain: retain,
	}
}

func (s *RoundStore) SaveRound(_ context.Context, r *dpconsensus.Round) error {
	if err := r.CheckStored(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rounds[r.RoundNumber] = r.Clone()
	if !s.hasRounds || r.RoundNumber > s.latest {
		s.latest = r.RoundNumber
		s.hasRounds = true
	}
	if s.latest > s.retain {
		for n := range s.rounds {
			if n <= s.latest-s.retain {
				delete(s.rounds, n)
			}
		}
	}
	return nil
}

func (s *RoundStore) LoadRound(_ context.Context, roundNumber uint64) (*dpconsensus.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[roundNumber]
	if !ok {
		return nil, dpstore.RoundUnknownError{RoundNumber: roundNumber}
	}
	return r.Clone(), nil
}

func (s *RoundStore) LoadLatestRound(_ context.Context) (*dpconsensus.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasRounds {
		return nil, dpstore.ErrNoRounds
	}
	r, ok := s.rounds[s.latest]
	if !ok {
		// The latest round was pruned away from under us,
		// which only a misconfigured pruner can cause.
		return nil, dpstore.RoundUnknownError{RoundNumber: s.latest}
	}
	return r.Clone(), nil
}

func (s *RoundStore) PruneRoundsBelow(_ context.Context, keep uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n := range s.rounds {
		if n < keep {
			delete(s.rounds, n)
		}
	}
	return nil
}
