package dpjson

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dphash"
	"github.com/rotor-engine/rotor/dptime"
)

// jsonRound is an intermediate form of [dpconsensus.Round],
// using pointer fields so that a missing required field
// is distinguishable from a legitimate zero value.
type jsonRound struct {
	RoundNumber                      *uint64 `json:"roundNumber"`
	TermNumber                       *uint64 `json:"termNumber"`
	MiningIntervalMS                 *int64  `json:"miningIntervalMs"`
	ConfirmedIrreversibleHeight      *uint64 `json:"confirmedIrreversibleHeight"`
	ConfirmedIrreversibleRoundNumber *uint64 `json:"confirmedIrreversibleRoundNumber"`
	ExtraBlockProducer               *string `json:"extraBlockProducer"`
	IsMinerListChanged               *bool   `json:"isMinerListChanged"`

	Slots map[string]jsonMinerSlot `json:"slots"`
}

type jsonMinerSlot struct {
	PubKey                    *string `json:"pubKey"`
	Order                     *int    `json:"order"`
	ExpectedMiningTime        *int64  `json:"expectedMiningTime"`
	ActualMiningTimes         []int64 `json:"actualMiningTimes,omitempty"`
	OutValue                  *string `json:"outValue"`
	InValueOfPreviousRound    *string `json:"inValueOfPreviousRound"`
	Signature                 *string `json:"signature"`
	ProducedBlocks            *uint64 `json:"producedBlocks"`
	ProducedTinyBlocks        *uint64 `json:"producedTinyBlocks"`
	MissedSlots               *uint64 `json:"missedSlots"`
	SupposedNextOrder         *int    `json:"supposedNextOrder"`
	FinalNextOrder            *int    `json:"finalNextOrder"`
	ImpliedIrreversibleHeight *uint64 `json:"impliedIrreversibleHeight"`

	EncryptedShares map[string][]byte `json:"encryptedShares,omitempty"`
	DecryptedShares map[string][]byte `json:"decryptedShares,omitempty"`
}

func toJSONRound(r *dpconsensus.Round) jsonRound {
	out := jsonRound{
		RoundNumber:                      &r.RoundNumber,
		TermNumber:                       &r.TermNumber,
		MiningIntervalMS:                 &r.MiningIntervalMS,
		ConfirmedIrreversibleHeight:      &r.ConfirmedIrreversibleHeight,
		ConfirmedIrreversibleRoundNumber: &r.ConfirmedIrreversibleRoundNumber,
		ExtraBlockProducer:               &r.ExtraBlockProducer,
		IsMinerListChanged:               &r.IsMinerListChanged,
		Slots:                            make(map[string]jsonMinerSlot, len(r.Slots)),
	}
	for k, s := range r.Slots {
		out.Slots[k] = toJSONMinerSlot(s)
	}
	return out
}

func toJSONMinerSlot(s *dpconsensus.MinerSlot) jsonMinerSlot {
	times := make([]int64, len(s.ActualMiningTimes))
	for i, t := range s.ActualMiningTimes {
		times[i] = int64(t)
	}

	outValue := hex.EncodeToString(s.OutValue.Bytes())
	inValue := hex.EncodeToString(s.InValueOfPreviousRound.Bytes())
	sig := hex.EncodeToString(s.Signature.Bytes())

	return jsonMinerSlot{
		PubKey:                    &s.PubKey,
		Order:                     &s.Order,
		ExpectedMiningTime:        (*int64)(&s.ExpectedMiningTime),
		ActualMiningTimes:         times,
		OutValue:                  &outValue,
		InValueOfPreviousRound:    &inValue,
		Signature:                 &sig,
		ProducedBlocks:            &s.ProducedBlocks,
		ProducedTinyBlocks:        &s.ProducedTinyBlocks,
		MissedSlots:               &s.MissedSlots,
		SupposedNextOrder:         &s.SupposedNextOrder,
		FinalNextOrder:            &s.FinalNextOrder,
		ImpliedIrreversibleHeight: &s.ImpliedIrreversibleHeight,
		EncryptedShares:           s.EncryptedShares,
		DecryptedShares:           s.DecryptedShares,
	}
}

func (jr jsonRound) toRound() (*dpconsensus.Round, error) {
	if jr.RoundNumber == nil ||
		jr.TermNumber == nil ||
		jr.MiningIntervalMS == nil ||
		jr.ConfirmedIrreversibleHeight == nil ||
		jr.ConfirmedIrreversibleRoundNumber == nil ||
		jr.ExtraBlockProducer == nil ||
		jr.IsMinerListChanged == nil ||
		jr.Slots == nil {
		return nil, dpconsensus.Malformedf("round is missing one or more required fields")
	}

	out := &dpconsensus.Round{
		RoundNumber:                      *jr.RoundNumber,
		TermNumber:                       *jr.TermNumber,
		MiningIntervalMS:                 *jr.MiningIntervalMS,
		ConfirmedIrreversibleHeight:      *jr.ConfirmedIrreversibleHeight,
		ConfirmedIrreversibleRoundNumber: *jr.ConfirmedIrreversibleRoundNumber,
		ExtraBlockProducer:               *jr.ExtraBlockProducer,
		IsMinerListChanged:               *jr.IsMinerListChanged,
		Slots:                            make(map[string]*dpconsensus.MinerSlot, len(jr.Slots)),
	}
	for k, js := range jr.Slots {
		s, err := js.toMinerSlot()
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", k, err)
		}
		out.Slots[k] = s
	}
	return out, nil
}

func (js jsonMinerSlot) toMinerSlot() (*dpconsensus.MinerSlot, error) {
	if js.PubKey == nil ||
		js.Order == nil ||
		js.ExpectedMiningTime == nil ||
		js.OutValue == nil ||
		js.InValueOfPreviousRound == nil ||
		js.Signature == nil ||
		js.ProducedBlocks == nil ||
		js.ProducedTinyBlocks == nil ||
		js.MissedSlots == nil ||
		js.SupposedNextOrder == nil ||
		js.FinalNextOrder == nil ||
		js.ImpliedIrreversibleHeight == nil {
		return nil, dpconsensus.Malformedf("miner slot is missing one or more required fields")
	}

	outValue, err := hashFromHex(*js.OutValue)
	if err != nil {
		return nil, fmt.Errorf("out-value: %w", err)
	}
	inValue, err := hashFromHex(*js.InValueOfPreviousRound)
	if err != nil {
		return nil, fmt.Errorf("previous in-value: %w", err)
	}
	sig, err := hashFromHex(*js.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	var times []dptime.Timestamp
	if len(js.ActualMiningTimes) > 0 {
		times = make([]dptime.Timestamp, len(js.ActualMiningTimes))
		for i, t := range js.ActualMiningTimes {
			times[i] = dptime.Timestamp(t)
		}
	}

	return &dpconsensus.MinerSlot{
		PubKey:                    *js.PubKey,
		Order:                     *js.Order,
		ExpectedMiningTime:        dptime.Timestamp(*js.ExpectedMiningTime),
		ActualMiningTimes:         times,
		OutValue:                  outValue,
		InValueOfPreviousRound:    inValue,
		Signature:                 sig,
		ProducedBlocks:            *js.ProducedBlocks,
		ProducedTinyBlocks:        *js.ProducedTinyBlocks,
		MissedSlots:               *js.MissedSlots,
		SupposedNextOrder:         *js.SupposedNextOrder,
		FinalNextOrder:            *js.FinalNextOrder,
		ImpliedIrreversibleHeight: *js.ImpliedIrreversibleHeight,
		EncryptedShares:           js.EncryptedShares,
		DecryptedShares:           js.DecryptedShares,
	}, nil
}

func hashFromHex(s string) (dphash.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return dphash.Hash{}, dpconsensus.Malformedf("invalid hex: %v", err)
	}
	return dphash.FromBytes(b)
}

// MarshalRound marshals a round to JSON.
func (c Codec) MarshalRound(r *dpconsensus.Round) ([]byte, error) {
	return json.Marshal(toJSONRound(r))
}

// UnmarshalRound strictly unmarshals a round from JSON,
// failing on any missing required field.
func (c Codec) UnmarshalRound(b []byte) (*dpconsensus.Round, error) {
	var jr jsonRound
	if err := json.Unmarshal(b, &jr); err != nil {
		return nil, dpconsensus.Malformedf("invalid round JSON: %v", err)
	}
	return jr.toRound()
}
