package fit

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

const (
	// minDecayPeriods is the number of periods the scan must cover before
	// a decay rate is estimated.
	minDecayPeriods = 2.5
	// fftPadding is the zero padding factor of the period estimate.
	fftPadding = 4
)

func sineDecayModel(axis Axis, p Values) []float64 {
	out := make([]float64, len(axis.X))
	amp, period, shift, decay, offset := p["amplitude"], p["period"], p["shift"], p["decay"], p["offset"]
	for i, x := range axis.X {
		out[i] = offset + amp*math.Sin(2*math.Pi*x/period+shift)*math.Exp(-x*decay)
	}
	return out
}

func sineDecayDefaults() ParameterSet {
	return NewParameterSet(
		NewParameter("amplitude", 1),
		NewParameter("period", 1).Bounded(0, math.Inf(1)),
		NewParameter("shift", 0),
		NewParameter("decay", 0),
		NewParameter("offset", 0),
	)
}

// dominantPeriod returns the period of the strongest nonzero frequency of
// level, zero padded by fftPadding.
func dominantPeriod(level []float64, step float64) (float64, error) {
	n := len(level) * fftPadding
	padded := make([]float64, n)
	copy(padded, level)

	coeff := fourier.NewFFT(n).Coefficients(nil, padded)
	best, bestPower := 0, 0.0
	for i := 1; i < len(coeff); i++ {
		if p := cmplx.Abs(coeff[i]); p > bestPower {
			best, bestPower = i, p
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("%w: no oscillation in data", ErrEstimate)
	}
	return float64(n) * step / float64(best), nil
}

// envelope returns the largest magnitude of level on [from, to) of x.
func envelope(x, level []float64, from, to float64) float64 {
	m := 0.0
	for i, v := range x {
		if v >= from && v < to {
			m = math.Max(m, math.Abs(level[i]))
		}
	}
	return m
}

// estimateSineDecay takes the period from the FFT, the decay from the
// envelope one period apart and the phase from the projection onto the
// decaying sine and cosine.
func estimateSineDecay(axis Axis, data []float64, log monitoring.Logger) (ParameterSet, error) {
	if err := checkSeries(axis, data, 8); err != nil {
		return ParameterSet{}, err
	}
	s := statsOf(axis.X)
	offset := stat.Mean(data, nil)
	level := make([]float64, len(data))
	for i, v := range data {
		level[i] = v - offset
	}
	amplitude := math.Max(math.Abs(floats.Min(level)), math.Abs(floats.Max(level)))

	period, err := dominantPeriod(level, s.step)
	if err != nil {
		return ParameterSet{}, err
	}

	decay := 0.0
	if s.span >= minDecayPeriods*period {
		first := envelope(axis.X, level, s.first, s.first+period)
		second := envelope(axis.X, level, s.first+period, s.first+2*period)
		if first > 0 && second > 0 {
			decay = math.Max(0, math.Log(first/second)/period)
		}
	} else {
		log.Diagf("sine_decay: scan covers %.2f periods, decay set to 0", s.span/period)
	}

	var sinPart, cosPart float64
	for i, x := range axis.X {
		w := math.Exp(-(x - s.first) * decay)
		sn, cs := math.Sincos(2 * math.Pi * x / period)
		sinPart += level[i] * sn * w
		cosPart += level[i] * cs * w
	}
	shift := math.Atan2(cosPart, sinPart)
	// The model decays from x = 0, not from the first sample.
	amplitude *= math.Exp(s.first * decay)

	ps := sineDecayDefaults()
	ps.SetValue("amplitude", amplitude)
	ps.Set(NewParameter("period", period).Bounded(2*s.step, math.Inf(1)))
	ps.SetValue("shift", shift)
	ps.SetValue("decay", decay)
	ps.SetValue("offset", offset)
	return ps, nil
}

func sineDecayDefinition() *ModelDefinition {
	return &ModelDefinition{
		Name:        "sine_decay",
		Description: "Exponentially damped sine with constant offset.",
		Dimensions:  1,
		Model:       sineDecayModel,
		Estimate:    estimateSineDecay,
		Defaults:    sineDecayDefaults,
	}
}
