package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

var (
	poissonDipSearch = dipSearch{ThresholdFraction: 0.4, MinimalThreshold: 0.1, SigmaThresholdFraction: 0.2}
	poissonFields    = []string{"amplitude", "mu"}
)

// poissonAt is the Poisson probability mass of mean mu, continued to real x
// through the log-gamma function so it can be sampled at bin centers.
func poissonAt(x, mu float64) float64 {
	switch {
	case x < 0 || mu < 0:
		return 0
	case mu == 0:
		if x == 0 {
			return 1
		}
		return 0
	}
	lg, _ := math.Lgamma(x + 1)
	return math.Exp(x*math.Log(mu) - mu - lg)
}

func poissonModel(axis Axis, p Values) []float64 {
	out := make([]float64, len(axis.X))
	for i, x := range axis.X {
		out[i] = p["amplitude"] * poissonAt(x, p["mu"])
	}
	return out
}

func poissonDefaults() ParameterSet {
	return NewParameterSet(
		NewParameter("amplitude", 1).Bounded(0, math.Inf(1)),
		NewParameter("mu", 1).Bounded(0, math.Inf(1)),
	)
}

// poissonPeak returns the mean and scale of a Poisson whose mode sits at x
// with height h.
func poissonPeak(x, h, minMu float64) (mu, amplitude float64, err error) {
	mu = math.Max(x, minMu)
	peak := poissonAt(mu, mu)
	if !(h > 0) || !(peak > 0) {
		return 0, 0, fmt.Errorf("%w: no positive peak at %g", ErrEstimate, x)
	}
	return mu, h / peak, nil
}

func estimatePoisson(axis Axis, data []float64, _ monitoring.Logger) (ParameterSet, error) {
	if err := checkSeries(axis, data, 3); err != nil {
		return ParameterSet{}, err
	}
	smooth := gaussianSmooth(data)
	i := floats.MaxIdx(smooth)
	mu, amp, err := poissonPeak(axis.X[i], smooth[i], statsOf(axis.X).step/2)
	if err != nil {
		return ParameterSet{}, err
	}
	ps := poissonDefaults()
	ps.SetValue("amplitude", amp)
	ps.SetValue("mu", mu)
	return ps, nil
}

func poissonDefinition() *ModelDefinition {
	return &ModelDefinition{
		Name:        "poissonian",
		Description: "Poisson distribution of mean mu scaled by amplitude.",
		Dimensions:  1,
		Model:       poissonModel,
		Estimate:    estimatePoisson,
		Defaults:    poissonDefaults,
	}
}

func doublePoissonModel(axis Axis, p Values) []float64 {
	out := make([]float64, len(axis.X))
	for i, x := range axis.X {
		out[i] = p["p0_amplitude"]*poissonAt(x, p["p0_mu"]) + p["p1_amplitude"]*poissonAt(x, p["p1_mu"])
	}
	return out
}

func doublePoissonDefaults() ParameterSet {
	return NewParameterSet(
		NewParameter("p0_amplitude", 1).Bounded(0, math.Inf(1)),
		NewParameter("p0_mu", 1).Bounded(0, math.Inf(1)),
		NewParameter("p1_amplitude", 1).Bounded(0, math.Inf(1)),
		NewParameter("p1_mu", 2).Bounded(0, math.Inf(1)),
	)
}

// estimateDoublePoisson finds the two peaks as dips of the negated, smoothed
// histogram and scales a Poisson onto each.
func estimateDoublePoisson(axis Axis, data []float64, log monitoring.Logger) (ParameterSet, error) {
	if err := checkSeries(axis, data, 5); err != nil {
		return ParameterSet{}, err
	}
	smooth := gaussianSmooth(data)
	negated := make([]float64, len(smooth))
	floats.ScaleTo(negated, -1, smooth)
	dips := poissonDipSearch.find(negated, log)

	minMu := statsOf(axis.X).step / 2
	ps := doublePoissonDefaults()
	for k, idx := range []int{dips.Dip0, dips.Dip1} {
		mu, amp, err := poissonPeak(axis.X[idx], smooth[idx], minMu)
		if err != nil {
			return ParameterSet{}, err
		}
		prefix := fmt.Sprintf("p%d_", k)
		ps.SetValue(prefix+"amplitude", amp)
		ps.SetValue(prefix+"mu", mu)
	}
	swapBy(&ps, nil, "p0_", "p1_", "mu", poissonFields)
	return ps, nil
}

func doublePoissonDefinition() *ModelDefinition {
	return &ModelDefinition{
		Name:        "poissonian_double",
		Description: "Sum of two Poisson distributions, each scaled by its amplitude.",
		Dimensions:  1,
		Model:       doublePoissonModel,
		Estimate:    estimateDoublePoisson,
		Defaults:    doublePoissonDefaults,
		Canonicalize: func(ps *ParameterSet, stderr map[string]float64) {
			swapBy(ps, stderr, "p0_", "p1_", "mu", poissonFields)
		},
	}
}
