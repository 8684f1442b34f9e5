package dpengine

import (
	"context"
	"fmt"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// RoundInfo is a read-only summary of the stored round,
// the shape consumed by reward distribution and the inspector.
type RoundInfo struct {
	RoundNumber uint64
	TermNumber  uint64

	MinerCount      int
	MinedMinerCount int
	MinedBlockCount uint64

	MiningIntervalMS int64

	IrreversibleHeight      uint64
	IrreversibleRoundNumber uint64

	ExtraBlockProducer string
}

// CurrentRoundInfo summarizes the stored round.
func (e *Engine) CurrentRoundInfo(ctx context.Context) (RoundInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.store.LoadLatestRound(ctx)
	if err != nil {
		return RoundInfo{}, fmt.Errorf("failed to load latest round: %w", err)
	}

	return RoundInfo{
		RoundNumber: r.RoundNumber,
		TermNumber:  r.TermNumber,

		MinerCount:      r.MinerCount(),
		MinedMinerCount: r.MinedMinerCount(),
		MinedBlockCount: r.MinedBlockCount(),

		MiningIntervalMS: r.MiningIntervalMS,

		IrreversibleHeight:      r.ConfirmedIrreversibleHeight,
		IrreversibleRoundNumber: r.ConfirmedIrreversibleRoundNumber,

		ExtraBlockProducer: r.ExtraBlockProducer,
	}, nil
}

// CurrentRound returns a copy of the stored round.
func (e *Engine) CurrentRound(ctx context.Context) (*dpconsensus.Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.LoadLatestRound(ctx)
}

// Round returns a copy of the stored round with the given number.
func (e *Engine) Round(ctx context.Context, roundNumber uint64) (*dpconsensus.Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.LoadRound(ctx, roundNumber)
}

// IrreversibleHeight returns the last irreversible height the engine
// has adopted.
func (e *Engine) IrreversibleHeight(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.store.LoadLatestRound(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load latest round: %w", err)
	}
	return r.ConfirmedIrreversibleHeight, nil
}
