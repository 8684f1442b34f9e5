package dpvalidation

// MiningPermissionValidator rejects blocks whose producer is not an
// authorized miner of the stored round.
type MiningPermissionValidator struct{}

func (MiningPermissionValidator) Name() string { return "mining_permission" }

func (v MiningPermissionValidator) Validate(vctx *Context) error {
	if vctx.Sender == "" {
		return Rejectf(v.Name(), "block has no sender identity")
	}
	if vctx.senderSlot() == nil {
		return Rejectf(v.Name(), "sender %x is not a miner of round %d",
			vctx.Sender, vctx.BaseRound.RoundNumber)
	}
	return nil
}
