package fit

import (
	"fmt"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// Axis holds the sample coordinates of a fit. Y is nil for one-dimensional
// models; for two-dimensional models X and Y are the flattened coordinates
// of each sample.
type Axis struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y,omitempty"`
}

// Len returns the number of samples on the axis.
func (a Axis) Len() int { return len(a.X) }

// Is2D reports whether the axis carries a second coordinate.
func (a Axis) Is2D() bool { return a.Y != nil }

func (a Axis) check(data []float64) error {
	if len(a.X) == 0 {
		return fmt.Errorf("%w: empty axis", ErrAxisMismatch)
	}
	if a.Y != nil && len(a.Y) != len(a.X) {
		return fmt.Errorf("%w: x has %d samples, y has %d", ErrAxisMismatch, len(a.X), len(a.Y))
	}
	if data != nil && len(data) != len(a.X) {
		return fmt.Errorf("%w: axis has %d samples, data has %d", ErrAxisMismatch, len(a.X), len(data))
	}
	return nil
}

// ModelFunc evaluates a model at every axis sample. It must not retain or
// modify its arguments.
type ModelFunc func(axis Axis, p Values) []float64

// EstimatorFunc produces an initial parameter guess for data on axis
// without iterating.
type EstimatorFunc func(axis Axis, data []float64, log monitoring.Logger) (ParameterSet, error)

// ModelDefinition describes a registered fit model.
type ModelDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Dimensions is 1 or 2.
	Dimensions int `json:"dimensions"`

	Model    ModelFunc     `json:"-"`
	Estimate EstimatorFunc `json:"-"`
	// Defaults is the parameter set used when the estimator fails. May be nil.
	Defaults func() ParameterSet `json:"-"`
	// Canonicalize reorders equivalent solutions in place, e.g. sorting
	// the lines of a multiplet. May be nil.
	Canonicalize func(ps *ParameterSet, stderr map[string]float64) `json:"-"`
}

// ModelInfo is a summary of a registered model.
type ModelInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Dimensions  int      `json:"dimensions"`
	Parameters  []string `json:"parameters,omitempty"`
}

func (d *ModelDefinition) info() ModelInfo {
	info := ModelInfo{Name: d.Name, Description: d.Description, Dimensions: d.Dimensions}
	if info.Dimensions == 0 {
		info.Dimensions = 1
	}
	if d.Defaults != nil {
		info.Parameters = d.Defaults().Names()
	}
	return info
}
