package dpstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// ErrNoRounds is returned by [RoundStore.LoadLatestRound]
// when the store holds no rounds at all.
var ErrNoRounds = errors.New("store contains no rounds")

// RoundUnknownError is returned when a requested round number
// is not present in the store,
// whether because it was never saved or because it has been pruned.
type RoundUnknownError struct {
	RoundNumber uint64
}

func (e RoundUnknownError) Error() string {
	return fmt.Sprintf("round %d unknown", e.RoundNumber)
}

// RoundStore stores and retrieves round snapshots.
//
// Implementations must treat saved rounds as immutable:
// a loaded round must not share mutable state with
// the value originally passed to SaveRound.
type RoundStore interface {
	// SaveRound persists the round, keyed by its round number.
	// Saving a round number that already exists overwrites it;
	// the engine does this when a round accumulates blocks.
	SaveRound(ctx context.Context, r *dpconsensus.Round) error

	// LoadRound returns the round with the given number,
	// or a [RoundUnknownError] if it is not present.
	LoadRound(ctx context.Context, roundNumber uint64) (*dpconsensus.Round, error)

	// LoadLatestRound returns the round with the highest number,
	// or [ErrNoRounds] if the store is empty.
	LoadLatestRound(ctx context.Context) (*dpconsensus.Round, error)

	// PruneRoundsBelow removes every round numbered below keep.
	// Pruning numbers that are already absent is not an error.
	PruneRoundsBelow(ctx context.Context, keep uint64) error
}
