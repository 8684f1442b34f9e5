package dpengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpsecret"
	"github.com/rotor-engine/rotor/dp/dpstore"
	"github.com/rotor-engine/rotor/dp/dpvalidation"
	"github.com/rotor-engine/rotor/dphash"
	"github.com/rotor-engine/rotor/dptime"
	"github.com/rotor-engine/rotor/internal/dlog"
)

// ErrHalted is returned by every state-changing engine method after the
// engine has observed local round corruption. Only operator
// intervention (repairing the store and restarting) clears it.
var ErrHalted = errors.New("engine halted on corrupt local round state")

// Default tuning, overridable through [Config].
const (
	DefaultSlotLimit     = 8
	DefaultHistoryRounds = 8
	DefaultMissThreshold = 30
)

// IrreversibleUpdate is emitted when the engine adopts a new
// last-irreversible height.
type IrreversibleUpdate struct {
	Height      uint64
	RoundNumber uint64
}

// MinerReplacement is emitted when an expelled miner's slot is handed
// to a replacement candidate at a round transition.
type MinerReplacement struct {
	Old, New    string
	RoundNumber uint64
}

// BlockMetadata is the consensus-relevant summary of one block,
// extracted by the ledger layer before it calls [Engine.ApplyBlock].
type BlockMetadata struct {
	// Producer is the marshaled public key of the block's miner.
	Producer string

	// Behavior is the consensus mutation the block carries.
	Behavior dpconsensus.Behavior
}

// Config holds the configuration required to start an [Engine].
type Config struct {
	Store   dpstore.RoundStore
	Secrets *dpsecret.Tracker

	HashScheme dphash.Scheme

	// Clock supplies the node's own observed time.
	// Peer-supplied timestamps are never consulted.
	// Defaults to [dptime.Now].
	Clock func() dptime.Timestamp

	// LocalHeight supplies the node's current chain height.
	LocalHeight func() uint64

	// Election supplies next-term miner lists and replacement
	// candidates. Nil disables term transitions and replacements.
	Election ElectionSource

	// SlotLimit is the initial maximum number of blocks per time slot.
	SlotLimit int

	// HistoryRounds is how many trailing rounds (and their secret-share
	// bookkeeping) are retained after a round transition.
	HistoryRounds uint64

	// MissThreshold is the missed-slot count past which a miner is
	// reported for replacement.
	MissThreshold uint64

	// TermRounds is the number of rounds in a term; 0 disables
	// term rotation.
	TermRounds uint64

	Metrics *Metrics

	OnIrreversibleUpdated func(IrreversibleUpdate)
	OnMinerReplaced       func(MinerReplacement)
}

// Engine is the single writer of consensus round state.
//
// The surrounding ledger guarantees that blocks arrive one at a time in
// chain order; Engine serializes its own methods but assumes nothing
// about block ordering beyond that.
type Engine struct {
	log *slog.Logger

	store   dpstore.RoundStore
	secrets *dpsecret.Tracker
	scheme  dphash.Scheme

	clock       func() dptime.Timestamp
	localHeight func() uint64
	election    ElectionSource

	metrics *Metrics

	onIrreversibleUpdated func(IrreversibleUpdate)
	onMinerReplaced       func(MinerReplacement)

	historyRounds uint64
	missThreshold uint64
	termRounds    uint64

	mu sync.Mutex

	pipeline dpvalidation.Pipeline
	tiny     *dpvalidation.ContinuousTracker

	slotLimit         int
	pendingIntervalMS int64
	termStartRound    uint64
	halted            bool
}

// New returns an engine ready to apply blocks.
// The store must already contain at least one round
// (the genesis round is installed by the node bootstrap).
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("config must set Store")
	}
	if cfg.HashScheme == nil {
		return nil, errors.New("config must set HashScheme")
	}
	if cfg.LocalHeight == nil {
		return nil, errors.New("config must set LocalHeight")
	}

	e := &Engine{
		log: log,

		store:   cfg.Store,
		secrets: cfg.Secrets,
		scheme:  cfg.HashScheme,

		clock:       cfg.Clock,
		localHeight: cfg.LocalHeight,
		election:    cfg.Election,

		metrics: cfg.Metrics,

		onIrreversibleUpdated: cfg.OnIrreversibleUpdated,
		onMinerReplaced:       cfg.OnMinerReplaced,

		historyRounds: cfg.HistoryRounds,
		missThreshold: cfg.MissThreshold,
		termRounds:    cfg.TermRounds,

		pipeline:  dpvalidation.NewPipeline(),
		tiny:      new(dpvalidation.ContinuousTracker),
		slotLimit: cfg.SlotLimit,
	}
	if e.clock == nil {
		e.clock = dptime.Now
	}
	if e.secrets == nil {
		e.secrets = dpsecret.NewTracker()
	}
	if e.slotLimit <= 0 {
		e.slotLimit = DefaultSlotLimit
	}
	if e.historyRounds == 0 {
		e.historyRounds = DefaultHistoryRounds
	}
	if e.missThreshold == 0 {
		e.missThreshold = DefaultMissThreshold
	}

	latest, err := e.store.LoadLatestRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest round: %w", err)
	}

	// The true first round of the current term may have been pruned;
	// treating the latest known round as the term start only delays
	// term rotation, never corrupts it.
	e.termStartRound = latest.RoundNumber

	return e, nil
}

// ApplyBlock validates one block's consensus behavior against the
// stored round state and, on acceptance, applies its mutation.
//
// Validation failures are returned as-is: a [dpconsensus.MalformedError]
// or [dpvalidation.RejectionError] means the block must not be accepted
// into the chain, and the engine state is unchanged. An
// [dpconsensus.ErrCorruptRound] means the local store is damaged;
// the engine halts.
func (e *Engine) ApplyBlock(ctx context.Context, block BlockMetadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return ErrHalted
	}

	base, err := e.store.LoadLatestRound(ctx)
	if err != nil {
		return fmt.Errorf("failed to load latest round: %w", err)
	}

	var prev *dpconsensus.Round
	if base.RoundNumber > 1 {
		prev, err = e.store.LoadRound(ctx, base.RoundNumber-1)
		if err != nil {
			var unknown dpstore.RoundUnknownError
			if !errors.As(err, &unknown) {
				return fmt.Errorf("failed to load previous round: %w", err)
			}
			// Pruned; validators that need it degrade gracefully.
			prev = nil
		}
	}

	now := e.clock()
	vctx := &dpvalidation.Context{
		BaseRound:     base,
		PreviousRound: prev,
		Sender:        block.Producer,
		Behavior:      block.Behavior,
		LocalTime:     now,
		LocalHeight:   e.localHeight(),
		// A mid-term replacement also flips IsMinerListChanged, so the
		// exemption keys on the term number actually advancing. The
		// replacement round keeps its predecessor's schedule and gets
		// no exemption.
		TermExempt: prev != nil && prev.TermNumber != base.TermNumber,
		SlotLimit:  e.slotLimit,
		Tiny:       e.tiny,
		Scheme:     e.scheme,
	}

	if err := e.pipeline.Validate(vctx); err != nil {
		e.noteRejection(err)
		if errors.Is(err, dpconsensus.ErrCorruptRound) {
			e.halt(err)
		}
		return err
	}

	switch b := block.Behavior.(type) {
	case dpconsensus.PublishValue:
		err = e.applyPublishValue(ctx, base, prev, block.Producer, b, now)
	case dpconsensus.TinyBlock:
		err = e.applyTinyBlock(ctx, base, block.Producer, now)
	case dpconsensus.NextRound:
		err = e.applyTransition(ctx, base, b.ProposedRound, false)
	case dpconsensus.NextTerm:
		err = e.applyTransition(ctx, base, b.ProposedRound, true)
	default:
		// The pipeline's structure validator already rejected
		// anything outside the sealed set.
		return dpconsensus.Malformedf("unknown behavior %T", block.Behavior)
	}
	if err != nil {
		if errors.Is(err, dpconsensus.ErrCorruptRound) {
			e.halt(err)
		}
		return err
	}

	if e.metrics != nil {
		e.metrics.BlocksApplied.WithLabelValues(block.Behavior.Name()).Inc()
	}

	return nil
}

// applyPublishValue mutates the sender's slot for its first block of
// the slot, records secret-share material, and recomputes
// irreversibility from the new implied-height report.
func (e *Engine) applyPublishValue(
	ctx context.Context,
	r, prev *dpconsensus.Round,
	sender string,
	b dpconsensus.PublishValue,
	now dptime.Timestamp,
) error {
	slot := r.Slots[sender]

	if !slot.HasPublishedValue() {
		slot.OutValue = b.OutValue
		slot.Signature = b.Signature
		slot.ImpliedIrreversibleHeight = b.ImpliedIrreversibleHeight

		supposed, err := dpconsensus.ProposeOrder(b.Signature, r.MinerCount())
		if err != nil {
			return err
		}
		slot.SupposedNextOrder = supposed

		used := bitset.New(uint(r.MinerCount()))
		for _, s := range r.Slots {
			if s.PubKey != sender && s.FinalNextOrder != 0 {
				used.Set(uint(s.FinalNextOrder - 1))
			}
		}
		final, err := dpconsensus.ResolveOrderConflict(used, supposed, r.MinerCount())
		if err != nil {
			return err
		}
		slot.FinalNextOrder = final

		e.secrets.RecordOutValue(r.RoundNumber, sender, b.OutValue)
	}

	slot.ActualMiningTimes = append(slot.ActualMiningTimes, now)
	slot.ProducedBlocks++

	if !b.PreviousInValue.IsZero() && slot.InValueOfPreviousRound.IsZero() {
		slot.InValueOfPreviousRound = b.PreviousInValue
		e.secrets.RecordRevealedInValue(r.RoundNumber-1, sender, b.PreviousInValue)
	}

	if len(b.EncryptedShares) > 0 {
		if slot.EncryptedShares == nil {
			slot.EncryptedShares = make(map[string][]byte, len(b.EncryptedShares))
		}
		for recipient, share := range b.EncryptedShares {
			slot.EncryptedShares[recipient] = share
		}
		e.secrets.RecordEncryptedShares(r.RoundNumber, sender, b.EncryptedShares)
	}
	if len(b.DecryptedPreviousShares) > 0 {
		if slot.DecryptedShares == nil {
			slot.DecryptedShares = make(map[string][]byte, len(b.DecryptedPreviousShares))
		}
		for owner, share := range b.DecryptedPreviousShares {
			slot.DecryptedShares[owner] = share
			e.secrets.RecordDecryptedShare(r.RoundNumber-1, owner, sender, share)
		}
	}

	e.recoverMissingReveals(r, prev)
	e.adoptIrreversible(r, prev)

	if err := e.store.SaveRound(ctx, r); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.RoundNumber, err)
	}

	// Committed only now: a failed save must not cost slot budget.
	e.tiny.Observe(sender, e.slotLimit)

	if e.metrics != nil {
		e.metrics.CurrentRound.Set(float64(r.RoundNumber))
	}
	e.log.Debug(
		"Applied publish-value block",
		"round", r.RoundNumber,
		"miner", dlog.Hex([]byte(sender)),
		"implied_height", b.ImpliedIrreversibleHeight,
	)
	return nil
}

func (e *Engine) applyTinyBlock(
	ctx context.Context,
	r *dpconsensus.Round,
	sender string,
	now dptime.Timestamp,
) error {
	slot := r.Slots[sender]
	slot.ActualMiningTimes = append(slot.ActualMiningTimes, now)
	slot.ProducedTinyBlocks++

	if err := e.store.SaveRound(ctx, r); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.RoundNumber, err)
	}

	remaining := e.tiny.Observe(sender, e.slotLimit)

	e.log.Debug(
		"Applied tiny block",
		"round", r.RoundNumber,
		"miner", dlog.Hex([]byte(sender)),
		"budget_remaining", remaining,
	)
	return nil
}

// applyTransition installs a validated round transition,
// applying any pending miner replacements and pruning history.
func (e *Engine) applyTransition(
	ctx context.Context,
	superseded *dpconsensus.Round,
	next *dpconsensus.Round,
	isTerm bool,
) error {
	// Install a copy: the behavior value may be shared with callers.
	installed := next.Clone()

	if err := e.applyReplacements(ctx, installed); err != nil {
		return err
	}

	if err := e.store.SaveRound(ctx, installed); err != nil {
		return fmt.Errorf("failed to save round %d: %w", installed.RoundNumber, err)
	}

	// Every miner gets a fresh slot in the new round.
	e.tiny.Reset()

	if isTerm {
		e.termStartRound = installed.RoundNumber
	}

	if installed.RoundNumber > e.historyRounds {
		keep := installed.RoundNumber - e.historyRounds
		if err := e.store.PruneRoundsBelow(ctx, keep); err != nil {
			return fmt.Errorf("failed to prune rounds below %d: %w", keep, err)
		}
		e.secrets.PruneBelow(keep)
	}

	if e.metrics != nil {
		e.metrics.CurrentRound.Set(float64(installed.RoundNumber))
	}
	e.log.Info(
		"Round transition",
		"from", superseded.RoundNumber,
		"to", installed.RoundNumber,
		"term", installed.TermNumber,
		"term_transition", isTerm,
	)
	return nil
}

// recoverMissingReveals fills current-round slots whose previous
// in-value is still unknown, from reveals or reconstructed shares.
func (e *Engine) recoverMissingReveals(r, prev *dpconsensus.Round) {
	if prev == nil || r.IsMinerListChanged {
		return
	}

	for owner, slot := range r.Slots {
		if !slot.InValueOfPreviousRound.IsZero() {
			continue
		}
		prevSlot := prev.Slots[owner]
		if prevSlot == nil || !prevSlot.HasPublishedValue() {
			continue
		}

		if in, ok := e.secrets.RevealedInValue(prev.RoundNumber, owner); ok {
			slot.InValueOfPreviousRound = in
			continue
		}

		in, ok := e.reconstructFromShares(prev, owner, prevSlot.OutValue)
		if !ok {
			continue
		}
		slot.InValueOfPreviousRound = in
		e.secrets.RecordRevealedInValue(prev.RoundNumber, owner, in)
		e.log.Info(
			"Recovered unrevealed in-value from shares",
			"round", prev.RoundNumber,
			"miner", dlog.Hex([]byte(owner)),
		)
	}
}

// reconstructFromShares attempts threshold recovery of owner's
// previous-round in-value. The share index of each republisher is its
// slot order in the round the shares were produced for.
func (e *Engine) reconstructFromShares(
	prev *dpconsensus.Round,
	owner string,
	commitment dphash.Hash,
) (dphash.Hash, bool) {
	collected := e.secrets.DecryptedShares(prev.RoundNumber, owner)
	n := prev.MinerCount()
	if len(collected) < dpconsensus.MinimumReportCount(n) {
		return dphash.Hash{}, false
	}

	indexed := make(map[int][]byte, len(collected))
	for republisher, share := range collected {
		s := prev.Slots[republisher]
		if s == nil {
			continue
		}
		indexed[s.Order-1] = share
	}

	in, err := dpsecret.ReconstructInValue(indexed, n)
	if err != nil {
		return dphash.Hash{}, false
	}
	// A reconstruction that does not open the commitment means some
	// republished shares were garbage; ignore it.
	if e.scheme.Compute(in.Bytes()) != commitment {
		return dphash.Hash{}, false
	}
	return in, true
}

// adoptIrreversible recomputes the last-irreversible height and adopts
// it into the round when it advanced.
func (e *Engine) adoptIrreversible(r, prev *dpconsensus.Round) {
	height, ok := dpconsensus.ComputeIrreversible(r, prev, e.localHeight())
	if !ok {
		return
	}

	r.ConfirmedIrreversibleHeight = height
	r.ConfirmedIrreversibleRoundNumber = r.RoundNumber

	if e.metrics != nil {
		e.metrics.IrreversibleHeight.Set(float64(height))
	}
	if e.onIrreversibleUpdated != nil {
		e.onIrreversibleUpdated(IrreversibleUpdate{
			Height:      height,
			RoundNumber: r.RoundNumber,
		})
	}
	e.log.Info(
		"Irreversible height advanced",
		"height", height,
		"round", r.RoundNumber,
	)
}

func (e *Engine) noteRejection(err error) {
	if e.metrics == nil {
		return
	}

	var rej dpvalidation.RejectionError
	switch {
	case errors.As(err, &rej):
		e.metrics.BlocksRejected.WithLabelValues(rej.Validator).Inc()
	case dpconsensus.IsMalformed(err):
		e.metrics.BlocksRejected.WithLabelValues("malformed").Inc()
	default:
		e.metrics.BlocksRejected.WithLabelValues("internal").Inc()
	}
}

// halt latches the engine off after local corruption.
func (e *Engine) halt(cause error) {
	e.halted = true
	e.log.Error(
		"HALTING ENGINE: local round state is corrupt; operator intervention required",
		"err", cause,
	)
}

// Halted reports whether the engine has latched off.
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}
