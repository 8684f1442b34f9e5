package dpjson

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rotor-engine/rotor/dp/dpcodec"
	"github.com/rotor-engine/rotor/dp/dpconsensus"
)

// Codec satisfies [dpcodec.Codec] with JSON encoding.
type Codec struct{}

var _ dpcodec.Codec = Codec{}

// jsonBehavior is the envelope for the behavior tagged union.
// Exactly one field must be set.
type jsonBehavior struct {
	PublishValue *jsonPublishValue `json:"publishValue,omitempty"`
	TinyBlock    *struct{}         `json:"tinyBlock,omitempty"`
	NextRound    *jsonRound        `json:"nextRound,omitempty"`
	NextTerm     *jsonRound        `json:"nextTerm,omitempty"`
}

type jsonPublishValue struct {
	OutValue                  *string `json:"outValue"`
	Signature                 *string `json:"signature"`
	PreviousInValue           *string `json:"previousInValue"`
	ImpliedIrreversibleHeight *uint64 `json:"impliedIrreversibleHeight"`

	EncryptedShares         map[string][]byte `json:"encryptedShares,omitempty"`
	DecryptedPreviousShares map[string][]byte `json:"decryptedPreviousShares,omitempty"`
}

// MarshalBehavior marshals a behavior to JSON.
func (c Codec) MarshalBehavior(b dpconsensus.Behavior) ([]byte, error) {
	var env jsonBehavior

	switch b := b.(type) {
	case dpconsensus.PublishValue:
		out := hex.EncodeToString(b.OutValue.Bytes())
		sig := hex.EncodeToString(b.Signature.Bytes())
		prev := hex.EncodeToString(b.PreviousInValue.Bytes())
		env.PublishValue = &jsonPublishValue{
			OutValue:                  &out,
			Signature:                 &sig,
			PreviousInValue:           &prev,
			ImpliedIrreversibleHeight: &b.ImpliedIrreversibleHeight,
			EncryptedShares:           b.EncryptedShares,
			DecryptedPreviousShares:   b.DecryptedPreviousShares,
		}
	case dpconsensus.TinyBlock:
		env.TinyBlock = &struct{}{}
	case dpconsensus.NextRound:
		if b.ProposedRound == nil {
			return nil, fmt.Errorf("cannot marshal next-round behavior without a proposed round")
		}
		jr := toJSONRound(b.ProposedRound)
		env.NextRound = &jr
	case dpconsensus.NextTerm:
		if b.ProposedRound == nil {
			return nil, fmt.Errorf("cannot marshal next-term behavior without a proposed round")
		}
		jr := toJSONRound(b.ProposedRound)
		env.NextTerm = &jr
	default:
		return nil, fmt.Errorf("cannot marshal behavior of type %T", b)
	}

	return json.Marshal(env)
}

// UnmarshalBehavior strictly unmarshals a behavior from JSON.
// Input that names no behavior, more than one behavior,
// or omits a required field fails as malformed.
func (c Codec) UnmarshalBehavior(data []byte) (dpconsensus.Behavior, error) {
	var env jsonBehavior
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, dpconsensus.Malformedf("invalid behavior JSON: %v", err)
	}

	set := 0
	if env.PublishValue != nil {
		set++
	}
	if env.TinyBlock != nil {
		set++
	}
	if env.NextRound != nil {
		set++
	}
	if env.NextTerm != nil {
		set++
	}
	if set != 1 {
		return nil, dpconsensus.Malformedf("behavior must name exactly one variant, got %d", set)
	}

	switch {
	case env.PublishValue != nil:
		return env.PublishValue.toPublishValue()
	case env.TinyBlock != nil:
		return dpconsensus.TinyBlock{}, nil
	case env.NextRound != nil:
		r, err := env.NextRound.toRound()
		if err != nil {
			return nil, fmt.Errorf("next-round proposal: %w", err)
		}
		return dpconsensus.NextRound{ProposedRound: r}, nil
	default:
		r, err := env.NextTerm.toRound()
		if err != nil {
			return nil, fmt.Errorf("next-term proposal: %w", err)
		}
		return dpconsensus.NextTerm{ProposedRound: r}, nil
	}
}

func (jp *jsonPublishValue) toPublishValue() (dpconsensus.Behavior, error) {
	if jp.OutValue == nil ||
		jp.Signature == nil ||
		jp.PreviousInValue == nil ||
		jp.ImpliedIrreversibleHeight == nil {
		return nil, dpconsensus.Malformedf("publish-value behavior is missing one or more required fields")
	}

	out, err := hashFromHex(*jp.OutValue)
	if err != nil {
		return nil, fmt.Errorf("out-value: %w", err)
	}
	sig, err := hashFromHex(*jp.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	prev, err := hashFromHex(*jp.PreviousInValue)
	if err != nil {
		return nil, fmt.Errorf("previous in-value: %w", err)
	}

	return dpconsensus.PublishValue{
		OutValue:                  out,
		Signature:                 sig,
		PreviousInValue:           prev,
		ImpliedIrreversibleHeight: *jp.ImpliedIrreversibleHeight,
		EncryptedShares:           jp.EncryptedShares,
		DecryptedPreviousShares:   jp.DecryptedPreviousShares,
	}, nil
}
