package dpcodec

import "github.com/rotor-engine/rotor/dp/dpconsensus"

// RoundMarshaler converts round snapshots to and from bytes,
// for persistence and for round-transition proposals on the wire.
type RoundMarshaler interface {
	MarshalRound(r *dpconsensus.Round) ([]byte, error)
	UnmarshalRound(b []byte) (*dpconsensus.Round, error)
}

// BehaviorMarshaler converts block behaviors to and from bytes.
//
// Unmarshaling is strict: input that does not name exactly one
// behavior, or omits a required field, fails with a malformed error
// rather than producing a zero-valued behavior.
type BehaviorMarshaler interface {
	MarshalBehavior(b dpconsensus.Behavior) ([]byte, error)
	UnmarshalBehavior(data []byte) (dpconsensus.Behavior, error)
}

// Codec is the combination of all marshalers a node needs.
type Codec interface {
	RoundMarshaler
	BehaviorMarshaler
}
