package pulse

import (
	"errors"
	"fmt"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// ErrOddPulseCount is returned when pulses must be paired but their number is odd.
var ErrOddPulseCount = errors.New("pulse count is odd")

// Reducer turns pulses into scalar signals.
type Reducer struct {
	log monitoring.Logger
}

// NewReducer creates a Reducer.
func NewReducer(log monitoring.Logger) *Reducer {
	return &Reducer{log: monitoring.OrNop(log)}
}

// SumPulse integrates the counts of one pulse.
func SumPulse(pulse []int) float64 {
	total := 0
	for _, c := range pulse {
		total += c
	}
	return float64(total)
}

// Normalize returns (Σa−Σb)/(Σa+Σb), or 0 with a warning when both pulses are empty.
func (r *Reducer) Normalize(a, b []int) float64 {
	return r.NormalizeSums(SumPulse(a), SumPulse(b))
}

// NormalizeSums applies the Normalize rule to already integrated values.
func (r *Reducer) NormalizeSums(a, b float64) float64 {
	den := a + b
	if den == 0 {
		r.log.Opsf("normalize: zero total counts (a=%g b=%g), returning 0", a, b)
		return 0
	}
	return (a - b) / den
}

// Signal returns one sum per pulse.
func (r *Reducer) Signal(ps PulseSet) []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = SumPulse(p)
	}
	return out
}

// NormalizedSignal pairs pulses (0,1), (2,3), ... and normalizes each pair.
func (r *Reducer) NormalizedSignal(ps PulseSet) ([]float64, error) {
	if len(ps)%2 != 0 {
		return nil, fmt.Errorf("normalized signal of %d pulses: %w", len(ps), ErrOddPulseCount)
	}
	out := make([]float64, len(ps)/2)
	for i := range out {
		out[i] = r.Normalize(ps[2*i], ps[2*i+1])
	}
	return out, nil
}
