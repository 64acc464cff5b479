package fit

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned for a model name absent from the registry.
	ErrUnknownModel = errors.New("unknown fit model")
	// ErrAxisMismatch is returned when axis and data lengths disagree.
	ErrAxisMismatch = errors.New("axis and data length mismatch")
	// ErrInvalidExpression is returned when a parameter expression does not compile.
	ErrInvalidExpression = errors.New("invalid parameter expression")
	// ErrEstimate is returned by estimators that cannot produce a guess for the data.
	ErrEstimate = errors.New("cannot estimate initial parameters")
)

// FitDidNotConverge is returned when the solver failed on both attempts.
// It carries the solver message and the last parameters attempted.
type FitDidNotConverge struct {
	Model   string
	Message string
	Params  ParameterSet
}

func (e *FitDidNotConverge) Error() string {
	return fmt.Sprintf("fit %q did not converge: %s", e.Model, e.Message)
}
