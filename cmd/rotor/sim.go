package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpconsensus/dpconsensustest"
	"github.com/rotor-engine/rotor/dp/dpengine"
	"github.com/rotor-engine/rotor/dp/dpstore/dpmemstore"
	"github.com/rotor-engine/rotor/dptime"
)

func newSimCommand() *cobra.Command {
	var (
		minerCount int
		roundCount int
		intervalMS int64
	)

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a deterministic in-process consensus simulation",
		Long: `sim drives a full engine through the given number of rounds with
deterministic miners, printing each round's schedule and the
irreversible-height progression.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSim(cmd.Context(), cmd, minerCount, roundCount, intervalMS)
		},
	}

	cmd.Flags().IntVar(&minerCount, "miners", 5, "number of miners")
	cmd.Flags().IntVar(&roundCount, "rounds", 10, "rounds to simulate")
	cmd.Flags().Int64Var(&intervalMS, "interval", 4000, "mining interval in milliseconds")

	return cmd
}

func runSim(ctx context.Context, cmd *cobra.Command, minerCount, roundCount int, intervalMS int64) error {
	if minerCount < 1 {
		return fmt.Errorf("--miners must be at least 1, got %d", minerCount)
	}
	if roundCount < 1 {
		return fmt.Errorf("--rounds must be at least 1, got %d", roundCount)
	}

	fx := dpconsensustest.NewFixture(minerCount)
	fx.IntervalMS = intervalMS

	monikers := make(map[string]string, minerCount)
	for _, m := range fx.Miners {
		monikers[m.PubKey] = petname.Generate(2, "-")
	}

	now := dptime.Timestamp(0)
	var height uint64

	store := dpmemstore.NewRoundStore()
	if err := store.SaveRound(ctx, fx.FirstRound(now)); err != nil {
		return err
	}

	eng, err := dpengine.New(ctx, newLogger(), dpengine.Config{
		Store:       store,
		HashScheme:  fx.Scheme,
		Clock:       func() dptime.Timestamp { return now },
		LocalHeight: func() uint64 { return height },
		OnIrreversibleUpdated: func(u dpengine.IrreversibleUpdate) {
			fmt.Fprintf(cmd.OutOrStdout(),
				"    irreversible height -> %d (round %d)\n", u.Height, u.RoundNumber)
		},
	})
	if err != nil {
		return err
	}

	for range roundCount {
		r, err := eng.CurrentRound(ctx)
		if err != nil {
			return err
		}

		printRound(cmd, r, monikers)

		// Every miner takes its slot in order.
		for order := 1; order <= r.MinerCount(); order++ {
			slot := r.SlotByOrder(order)
			i := fixtureIndex(fx, slot.PubKey)

			now = slot.ExpectedMiningTime
			height++

			var prevRound uint64
			if r.RoundNumber > 1 && !r.IsMinerListChanged {
				prevRound = r.RoundNumber - 1
			}

			if err := eng.ApplyBlock(ctx, dpengine.BlockMetadata{
				Producer: slot.PubKey,
				Behavior: fx.PublishValuePayload(r, i, prevRound, height-1),
			}); err != nil {
				return fmt.Errorf("round %d, %s: %w", r.RoundNumber, monikers[slot.PubKey], err)
			}
		}

		// Extra block terminates the round.
		now = r.ExpectedEndTime().Add(intervalMS * int64(minerCount+1))
		b, err := eng.BuildTransition(ctx, now)
		if err != nil {
			return err
		}
		height++
		if err := eng.ApplyBlock(ctx, dpengine.BlockMetadata{
			Producer: r.ExtraBlockProducer,
			Behavior: b,
		}); err != nil {
			return fmt.Errorf("round %d transition: %w", r.RoundNumber, err)
		}
	}

	info, err := eng.CurrentRoundInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"\nsimulated %d rounds, %d blocks, final irreversible height %d\n",
		roundCount, height, info.IrreversibleHeight)
	return nil
}

func printRound(cmd *cobra.Command, r *dpconsensus.Round, monikers map[string]string) {
	fmt.Fprintf(cmd.OutOrStdout(), "round %d (term %d):\n", r.RoundNumber, r.TermNumber)
	for _, s := range r.OrderedSlots() {
		marker := " "
		if s.PubKey == r.ExtraBlockProducer {
			marker = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %2d  %-24s %s  t+%dms\n",
			marker, s.Order, monikers[s.PubKey],
			hex.EncodeToString([]byte(s.PubKey))[:8],
			s.ExpectedMiningTime.Sub(r.RoundStartTime()),
		)
	}
}

func fixtureIndex(fx *dpconsensustest.Fixture, pubKey string) int {
	for i, m := range fx.Miners {
		if m.PubKey == pubKey {
			return i
		}
	}
	panic(fmt.Sprintf("no fixture miner %x", pubKey))
}
