package singleshot

import (
	"context"

	"github.com/banshee-data/pulsefit/internal/binning"
	"github.com/banshee-data/pulsefit/internal/fit"
)

const lifetimeModel = "exponential_decay"

// LifetimeFit is the exponential fitted to the dwell time histogram of one
// state. Times and Counts hold the occupied histogram bins only.
type LifetimeFit struct {
	Lifetime float64   `json:"lifetime"`
	Stderr   float64   `json:"stderr,omitempty"`
	Dwells   int       `json:"dwells"`
	Fitted   bool      `json:"fitted"`
	Message  string    `json:"message,omitempty"`
	Times    []float64 `json:"times"`
	Counts   []float64 `json:"counts"`
}

// LifetimeAnalysis is the postselected lifetime of the bright and dark
// states of a trace.
type LifetimeAnalysis struct {
	Threshold Threshold   `json:"threshold"`
	Bright    LifetimeFit `json:"bright"`
	Dark      LifetimeFit `json:"dark"`
}

// DwellTimes splits a thresholded trace into runs of consecutive bright
// and dark samples and returns each run's duration, dt per sample.
func DwellTimes(trace []float64, threshold, dt float64) (bright, dark []float64) {
	b, _ := FilterIndices(trace, threshold, false)
	d, _ := FilterIndices(trace, threshold, true)
	return runLengths(b, dt), runLengths(d, dt)
}

func runLengths(indices []int, dt float64) []float64 {
	var out []float64
	n := 0
	for i, idx := range indices {
		n++
		if i == len(indices)-1 || indices[i+1] != idx+1 {
			out = append(out, float64(n)*dt)
			n = 0
		}
	}
	return out
}

// AnalyzeLifetime places the threshold on the histogram of trace, cuts the
// trace into bright and dark dwells and fits an exponential decay to the
// dwell time histogram of each state. numBins applies to every histogram;
// 0 picks bins automatically. A non-positive dt counts in samples.
func (t *ThresholdEstimator) AnalyzeLifetime(ctx context.Context, trace []float64, dt float64, numBins int) LifetimeAnalysis {
	if !(dt > 0) {
		dt = 1
	}
	edges, counts := binning.Histogram(trace, numBins)
	out := LifetimeAnalysis{Threshold: t.Estimate(ctx, edges, counts)}
	if !out.Threshold.Fitted {
		t.log.Opsf("lifetime: threshold not fitted, postselecting at guess %g", out.Threshold.Threshold)
	}

	bright, dark := DwellTimes(trace, out.Threshold.Threshold, dt)
	out.Bright = t.fitLifetime(ctx, "bright", bright, numBins)
	out.Dark = t.fitLifetime(ctx, "dark", dark, numBins)
	return out
}

func (t *ThresholdEstimator) fitLifetime(ctx context.Context, state string, dwells []float64, numBins int) LifetimeFit {
	out := LifetimeFit{Dwells: len(dwells)}
	if len(dwells) == 0 {
		out.Message = "no " + state + " dwells"
		return out
	}
	edges, counts := binning.Histogram(dwells, numBins)
	centers := binning.Centers(edges)
	for i, c := range counts {
		if c > 0 {
			out.Times = append(out.Times, centers[i])
			out.Counts = append(out.Counts, c)
		}
	}
	if len(out.Times) < minHistogramBins {
		out.Message = "too few occupied dwell time bins"
		t.log.Diagf("lifetime: %s has %d occupied bins", state, len(out.Times))
		return out
	}

	res, err := t.engine.Fit(ctx, lifetimeModel, fit.Axis{X: out.Times}, out.Counts,
		[]fit.Override{fit.FixAt("offset", 0)})
	if err != nil {
		t.log.Opsf("lifetime: %s fit failed: %v", state, err)
		out.Message = err.Error()
		return out
	}
	out.Lifetime = res.Params.Value("lifetime")
	out.Stderr = res.Stderr["lifetime"]
	out.Fitted = true
	t.log.Diagf("lifetime: %s %g over %d dwells", state, out.Lifetime, out.Dwells)
	return out
}
