// Package singleshot separates the bright and dark populations of a
// single-shot readout: it fits a two-component mixture to a count
// histogram, places the discrimination threshold and reports how well the
// two states can be told apart.
package singleshot

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/pulsefit/internal/binning"
	"github.com/banshee-data/pulsefit/internal/fit"
	"github.com/banshee-data/pulsefit/internal/monitoring"
)

const (
	// minHistogramBins is the smallest histogram worth fitting.
	minHistogramBins = 5
	// DefaultGuessRatio drops histogram bins below this fraction of the
	// tallest bin when guessing a threshold.
	DefaultGuessRatio = 0.1
)

// Distribution is the shape assumed for each of the two populations.
type Distribution string

const (
	// Gaussian suits normalized values and wide count distributions.
	Gaussian Distribution = "gaussian"
	// Poissonian suits raw photon counts.
	Poissonian Distribution = "poissonian"
)

// ParseDistribution validates a distribution name.
func ParseDistribution(name string) (Distribution, error) {
	switch d := Distribution(name); d {
	case Gaussian, Poissonian:
		return d, nil
	default:
		return "", fmt.Errorf("unknown distribution %q", name)
	}
}

// Threshold is the outcome of separating a bimodal histogram. Fidelity is
// zero when the mixture could not be fitted or its components do not
// cross between their centers; Threshold then holds the histogram guess.
type Threshold struct {
	Threshold float64 `json:"threshold"`
	Fidelity  float64 `json:"fidelity"`
	// FidelityLow is the fraction of the lower component below the
	// threshold, FidelityHigh the fraction of the upper one above it.
	FidelityLow  float64 `json:"fidelity_low"`
	FidelityHigh float64 `json:"fidelity_high"`

	Distribution Distribution `json:"distribution"`

	Fitted  bool             `json:"fitted"`
	Message string           `json:"message,omitempty"`
	Params  fit.ParameterSet `json:"params,omitempty"`
}

// component is one fitted population of the mixture.
type component struct {
	weight float64
	mean   float64
	sigma  float64
}

func (c component) height() float64 {
	return c.weight / (c.sigma * math.Sqrt(2*math.Pi))
}

// mixture maps a Distribution onto its fit model and its statistics.
type mixture interface {
	model() string
	overrides() []fit.Override
	components(ps fit.ParameterSet) (component, component)
	crossing(lo, hi component) (float64, bool)
	// misassigned returns the fraction of lo above thr and of hi at or
	// below it.
	misassigned(lo, hi component, thr float64) (lowWrong, highWrong float64)
}

type gaussianMixture struct{}

func (gaussianMixture) model() string { return "gaussian_double" }

func (gaussianMixture) overrides() []fit.Override {
	return []fit.Override{fit.FixAt("offset", 0)}
}

func (gaussianMixture) components(ps fit.ParameterSet) (component, component) {
	return component{ps.Value("g0_amplitude"), ps.Value("g0_center"), math.Abs(ps.Value("g0_sigma"))},
		component{ps.Value("g1_amplitude"), ps.Value("g1_center"), math.Abs(ps.Value("g1_sigma"))}
}

func (gaussianMixture) crossing(lo, hi component) (float64, bool) { return crossing(lo, hi) }

func (gaussianMixture) misassigned(lo, hi component, thr float64) (float64, float64) {
	n0 := distuv.Normal{Mu: lo.mean, Sigma: lo.sigma}
	n1 := distuv.Normal{Mu: hi.mean, Sigma: hi.sigma}
	return n0.Survival(thr), n1.CDF(thr)
}

type poissonMixture struct{}

func (poissonMixture) model() string { return "poissonian_double" }

func (poissonMixture) overrides() []fit.Override { return nil }

func (poissonMixture) components(ps fit.ParameterSet) (component, component) {
	mu0, mu1 := ps.Value("p0_mu"), ps.Value("p1_mu")
	return component{ps.Value("p0_amplitude"), mu0, math.Sqrt(mu0)},
		component{ps.Value("p1_amplitude"), mu1, math.Sqrt(mu1)}
}

func (poissonMixture) crossing(lo, hi component) (float64, bool) { return poissonCrossing(lo, hi) }

// misassigned treats values as counts, so a sample at the threshold is dark.
func (poissonMixture) misassigned(lo, hi component, thr float64) (float64, float64) {
	p0 := distuv.Poisson{Lambda: lo.mean}
	p1 := distuv.Poisson{Lambda: hi.mean}
	return p0.Survival(thr), p1.CDF(thr)
}

// ThresholdEstimator fits a two-component mixture through a fit.Engine.
type ThresholdEstimator struct {
	engine *fit.Engine
	log    monitoring.Logger
	dist   Distribution
	mix    mixture
}

// NewThresholdEstimator creates an estimator assuming Gaussian populations.
// A nil engine uses the default model registry.
func NewThresholdEstimator(engine *fit.Engine, log monitoring.Logger) *ThresholdEstimator {
	log = monitoring.OrNop(log)
	if engine == nil {
		engine = fit.NewEngine(fit.EngineConfig{Logger: log})
	}
	return &ThresholdEstimator{engine: engine, log: log, dist: Gaussian, mix: gaussianMixture{}}
}

// WithDistribution returns a copy of t that assumes populations of shape d.
// Unknown shapes fall back to Gaussian.
func (t *ThresholdEstimator) WithDistribution(d Distribution) *ThresholdEstimator {
	c := *t
	c.dist, c.mix = Gaussian, gaussianMixture{}
	if d == Poissonian {
		c.dist, c.mix = Poissonian, poissonMixture{}
	}
	return &c
}

// Distribution returns the assumed population shape.
func (t *ThresholdEstimator) Distribution() Distribution { return t.dist }

// Estimate places the threshold for a histogram given by its bin edges
// and counts. It never fails: degenerate inputs yield zero fidelity.
func (t *ThresholdEstimator) Estimate(ctx context.Context, edges, counts []float64) Threshold {
	centers := binning.Centers(edges)
	if len(centers) != len(counts) {
		t.log.Opsf("threshold: %d edges do not match %d counts", len(edges), len(counts))
		return Threshold{Message: "edges do not match counts", Distribution: t.dist}
	}
	guess := GuessThreshold(centers, counts, DefaultGuessRatio)
	out := Threshold{Threshold: guess, Distribution: t.dist}
	if len(counts) < minHistogramBins {
		out.Message = "too few histogram bins"
		t.log.Diagf("threshold: %d bins, using guess %g", len(counts), guess)
		return out
	}

	res, err := t.engine.Fit(ctx, t.mix.model(), fit.Axis{X: centers}, counts, t.mix.overrides())
	if err != nil {
		t.log.Opsf("threshold: mixture fit failed, using guess %g: %v", guess, err)
		out.Message = err.Error()
		return out
	}
	out.Params = res.Params

	lo, hi := t.mix.components(res.Params)
	if hi.mean < lo.mean {
		lo, hi = hi, lo
	}
	thr, ok := t.mix.crossing(lo, hi)
	if !ok {
		t.log.Opsf("threshold: components at %g and %g are not separated, using guess %g", lo.mean, hi.mean, guess)
		out.Message = "components not separated"
		return out
	}

	lowWrong, highWrong := t.mix.misassigned(lo, hi, thr)

	out.Threshold = thr
	out.Fitted = true
	out.FidelityLow = 1 - lowWrong
	out.FidelityHigh = 1 - highWrong
	out.Fidelity = 1 - (lo.weight*lowWrong+hi.weight*highWrong)/(lo.weight+hi.weight)
	t.log.Diagf("threshold: %s %g with fidelity %.4f (low %.4f, high %.4f)", t.dist, thr, out.Fidelity, out.FidelityLow, out.FidelityHigh)
	return out
}

// crossing returns the point between the two means where the weighted
// Gaussian densities are equal.
func crossing(lo, hi component) (float64, bool) {
	if !(lo.weight > 0 && hi.weight > 0 && lo.sigma > 0 && hi.sigma > 0 && lo.mean < hi.mean) {
		return 0, false
	}
	v0, v1 := lo.sigma*lo.sigma, hi.sigma*hi.sigma
	a := 1/(2*v0) - 1/(2*v1)
	b := hi.mean/v1 - lo.mean/v0
	c := lo.mean*lo.mean/(2*v0) - hi.mean*hi.mean/(2*v1) - math.Log(lo.height()/hi.height())

	between := func(x float64) bool { return x > lo.mean && x < hi.mean }
	if math.Abs(a) < 1e-12*math.Abs(b) {
		x := -c / b
		return x, between(x)
	}
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	for _, x := range []float64{(-b + sq) / (2 * a), (-b - sq) / (2 * a)} {
		if between(x) {
			return x, true
		}
	}
	return 0, false
}

// poissonCrossing returns the point between the two means where the
// weighted Poisson masses are equal. The log-gamma terms cancel, leaving a
// linear equation.
func poissonCrossing(lo, hi component) (float64, bool) {
	if !(lo.weight > 0 && hi.weight > 0 && lo.mean > 0 && lo.mean < hi.mean) {
		return 0, false
	}
	x := (math.Log(lo.weight/hi.weight) + hi.mean - lo.mean) / math.Log(hi.mean/lo.mean)
	return x, x > lo.mean && x < hi.mean
}
