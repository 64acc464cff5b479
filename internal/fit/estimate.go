package fit

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"

	"github.com/banshee-data/pulsefit/internal/binning"
	"github.com/banshee-data/pulsefit/internal/dsp"
)

// offsetHistogramBins is the bin count used to find the most common level.
const offsetHistogramBins = 10

// checkSeries validates a one-dimensional series for estimation. The axis
// must be strictly increasing.
func checkSeries(axis Axis, data []float64, minLen int) error {
	if len(axis.X) < minLen {
		return fmt.Errorf("%w: need at least %d samples, have %d", ErrEstimate, minLen, len(axis.X))
	}
	if len(data) != len(axis.X) {
		return fmt.Errorf("%w: axis has %d samples, data has %d", ErrAxisMismatch, len(axis.X), len(data))
	}
	if !sort.Float64sAreSorted(axis.X) || axis.X[0] == axis.X[len(axis.X)-1] {
		return fmt.Errorf("%w: axis must be increasing", ErrEstimate)
	}
	if !dsp.AllFinite(data) || !dsp.AllFinite(axis.X) {
		return fmt.Errorf("%w: non-finite samples", ErrEstimate)
	}
	return nil
}

// axisStats summarises an increasing axis.
type axisStats struct {
	first, last float64
	step        float64
	span        float64
	n           int
}

func statsOf(x []float64) axisStats {
	return axisStats{
		first: x[0],
		last:  x[len(x)-1],
		step:  x[1] - x[0],
		span:  x[len(x)-1] - x[0],
		n:     len(x),
	}
}

// centerBounds allows a center to drift one scan width beyond either end.
func (s axisStats) centerBounds() (lo, hi float64) {
	w := float64(s.n) * s.step
	return s.first - w, s.last + w
}

// area integrates y over x with the trapezoidal rule.
func area(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return integrate.Trapezoidal(x, y)
}

// smoothingLength picks the filter length used by the peak estimators.
func smoothingLength(n int) int {
	switch {
	case n < 20:
		return 5
	case n >= 100:
		return 10
	default:
		return n/10 + 1
	}
}

// lorentzianKernel is a normalized Lorentzian sampled on length points,
// centred at length/2 with half width length/4.
func lorentzianKernel(length int) []float64 {
	k := make([]float64, length)
	sigma := float64(length) / 4
	center := float64(length) / 2
	step := 0.0
	if length > 1 {
		step = float64(length) / float64(length-1)
	}
	for i := range k {
		x := float64(i) * step
		k[i] = sigma * sigma / ((x-center)*(x-center) + sigma*sigma)
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// findOffset smooths data with a matched Lorentzian and returns the smoothed
// series with the center of the most populated bin of its histogram.
func findOffset(data []float64) (smooth []float64, offset float64) {
	kernel := lorentzianKernel(smoothingLength(len(data)))
	smooth = dsp.Convolve(data, kernel, dsp.Constant, floats.Max(data))

	edges, counts := binning.Histogram(smooth, offsetHistogramBins)
	if len(counts) == 0 {
		return smooth, floats.Max(data)
	}
	mode := floats.MaxIdx(counts)
	return smooth, (edges[mode] + edges[mode+1]) / 2
}

// gaussianSmooth applies the Gaussian window smoothing of the double
// Gaussian estimator.
func gaussianSmooth(data []float64) []float64 {
	length := smoothingLength(len(data))
	w := dsp.GaussianWindow(length, float64(length))
	floats.Scale(1/floats.Sum(w), w)
	return dsp.Convolve(data, w, dsp.Mirror, 0)
}

// combKernel returns a normalized kernel of length points split into
// len(pattern) equal segments weighted by pattern.
func combKernel(length int, pattern []float64) []float64 {
	k := make([]float64, length)
	segments := float64(len(pattern))
	for i := range k {
		seg := int(float64(i) * segments / float64(length))
		if seg >= len(pattern) {
			seg = len(pattern) - 1
		}
		k[i] = pattern[seg]
	}
	if s := floats.Sum(k); s > 0 {
		floats.Scale(1/s, k)
	}
	return k
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// clampInto returns v limited to [lo, hi].
func clampInto(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
