package dpvalidation

import (
	"errors"
	"fmt"
)

// RejectionError is a protocol violation detected by a named validator.
// The block carrying the offending consensus metadata is not applied;
// the node itself continues normally.
type RejectionError struct {
	// Validator is the name of the check that rejected the input.
	Validator string

	// Reason is a human-readable description of the violation.
	Reason string
}

func (e RejectionError) Error() string {
	return fmt.Sprintf("consensus validation failed (%s): %s", e.Validator, e.Reason)
}

// Rejectf builds a RejectionError for the named validator.
func Rejectf(validator, format string, args ...any) error {
	return RejectionError{Validator: validator, Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a protocol-violation rejection.
func IsRejection(err error) bool {
	var r RejectionError
	return errors.As(err, &r)
}

// Validator is a single independent check over a validation context.
// A nil return accepts; a [RejectionError] rejects;
// [dpconsensus.ErrCorruptRound] marks local state as corrupt.
type Validator interface {
	// Name identifies the validator in rejection reasons and metrics.
	Name() string

	Validate(vctx *Context) error
}

// Pipeline is a fixed, ordered list of validators,
// applied with short-circuit semantics: the first error wins.
type Pipeline struct {
	validators []Validator
}

// NewPipeline returns the standard validation pipeline.
// Structural checks run first so no later validator ever sees
// malformed input.
func NewPipeline() Pipeline {
	return Pipeline{validators: []Validator{
		StructureValidator{},
		MiningPermissionValidator{},
		TimeSlotValidator{},
		ContinuousBlocksValidator{},
		UpdateValueValidator{},
		NextRoundValidator{},
		IrreversibleValidator{},
	}}
}

// Validate runs every validator in order, stopping at the first failure.
func (p Pipeline) Validate(vctx *Context) error {
	for _, v := range p.validators {
		if err := v.Validate(vctx); err != nil {
			return err
		}
	}
	return nil
}
