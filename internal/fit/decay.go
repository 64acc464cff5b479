package fit

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

func exponentialDecayModel(axis Axis, p Values) []float64 {
	out := make([]float64, len(axis.X))
	amp, lifetime, offset := p["amplitude"], p["lifetime"], p["offset"]
	for i, x := range axis.X {
		out[i] = offset + amp*math.Exp(-x/lifetime)
	}
	return out
}

func exponentialDecayDefaults() ParameterSet {
	return NewParameterSet(
		NewParameter("amplitude", 1),
		NewParameter("lifetime", 1).Bounded(0, math.Inf(1)),
		NewParameter("offset", 0),
	)
}

// estimateExponentialDecay takes the offset from the last tenth of the data
// and fits a line to the logarithm of the levelled head, up to where it
// sinks into the noise.
func estimateExponentialDecay(axis Axis, data []float64, log monitoring.Logger) (ParameterSet, error) {
	if err := checkSeries(axis, data, 3); err != nil {
		return ParameterSet{}, err
	}
	n := len(data)
	s := statsOf(axis.X)
	tail := max(1, n/10)
	offset := stat.Mean(data[n-tail:], nil)

	rising := data[0] < data[n-1]
	level := make([]float64, n)
	for i, v := range data {
		level[i] = v - offset
		if rising {
			level[i] = -level[i]
		}
	}
	noise := stat.StdDev(level, nil)
	end := 0
	for end < n && level[end] > noise {
		end++
	}

	amp := level[0]
	lifetime := axis.X[max(end, 1)] - axis.X[0]
	if end >= 2 {
		logs := make([]float64, end)
		for i := range logs {
			logs[i] = math.Log(level[i])
		}
		alpha, beta := stat.LinearRegression(axis.X[:end], logs, nil, false)
		if beta < 0 {
			lifetime = -1 / beta
			amp = math.Exp(alpha)
		}
	} else {
		log.Diagf("exponential decay: lifetime below resolution, using %g", lifetime)
	}
	if rising {
		amp = -amp
	}

	minLifetime := 2 * s.step
	ps := exponentialDecayDefaults()
	ps.SetValue("amplitude", finiteOr(amp, level[0]))
	ps.Set(NewParameter("lifetime", clampInto(finiteOr(lifetime, s.span), minLifetime, math.Inf(1))).Bounded(minLifetime, math.Inf(1)))
	ps.SetValue("offset", offset)
	return ps, nil
}

func exponentialDecayDefinition() *ModelDefinition {
	return &ModelDefinition{
		Name:        "exponential_decay",
		Description: "Exponential decay amplitude*exp(-x/lifetime) on a constant offset.",
		Dimensions:  1,
		Model:       exponentialDecayModel,
		Estimate:    estimateExponentialDecay,
		Defaults:    exponentialDecayDefaults,
	}
}
