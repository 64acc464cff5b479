package pulse

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pulsefit/internal/dsp"
	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// MinEdgeStrengthRatio is the fraction of the strongest edge of a polarity
// that any further extremum must reach to count as an edge. Smoothing tails
// that survive the zeroing window stay below it.
const MinEdgeStrengthRatio = 0.2

// EdgeDetector finds rising and falling intensity edges in a 1-D trace from
// the derivative of its Gaussian-smoothed version.
type EdgeDetector struct {
	Sigma float64
	log   monitoring.Logger
}

// NewEdgeDetector creates a detector with smoothing width sigma (in bins).
func NewEdgeDetector(sigma float64, log monitoring.Logger) *EdgeDetector {
	return &EdgeDetector{Sigma: sigma, log: monitoring.OrNop(log)}
}

// Derivative smooths the zero-extended trace and returns
// d[i] = S(i) - S(i-1) for i in [0, len(trace)]. A rising edge at d[i]
// means bin i is the first bin of the brighter level; a falling edge at
// d[i] means bin i is the first bin of the darker level.
func (e *EdgeDetector) Derivative(trace []float64) []float64 {
	padded := make([]float64, len(trace)+2)
	copy(padded[1:], trace)
	smooth := dsp.GaussianFilter(padded, e.Sigma, dsp.Constant, 0)
	return dsp.Diff(smooth)
}

// zeroRadius is the half-width of the window cleared around a found edge.
func (e *EdgeDetector) zeroRadius() int {
	return max(int(math.Ceil(2*e.Sigma)), 1)
}

// FindEdges returns up to count rising and count falling edge indices, each
// sorted ascending. Indices refer to trace bins; a falling index is the
// exclusive stop of the pulse before it and may equal len(trace).
//
// When Sigma exceeds half the trace length the trace cannot hold more than
// one resolved segment; a warning is logged and [0] / [len(trace)] returned.
func (e *EdgeDetector) FindEdges(trace []float64, count int) (rising, falling []int) {
	n := len(trace)
	if n == 0 || count <= 0 {
		return nil, nil
	}
	if e.Sigma > float64(n)/2 {
		e.log.Opsf("edge detection: sigma %.3g exceeds half the trace length %d, using the whole trace as one segment", e.Sigma, n)
		return []int{0}, []int{n}
	}
	if !dsp.AllFinite(trace) {
		e.log.Opsf("edge detection: trace contains non-finite values, no edges found")
		return nil, nil
	}

	d := e.Derivative(trace)
	rising = e.search(d, count, 1)
	falling = e.search(d, count, -1)
	sort.Ints(rising)
	sort.Ints(falling)
	e.log.Tracef("edge detection: sigma=%.3g rising=%v falling=%v", e.Sigma, rising, falling)
	return rising, falling
}

// search repeatedly takes the extremum of sign*d, clearing a window around
// each hit. It works on its own copy so rising and falling searches do not
// interfere.
func (e *EdgeDetector) search(d []float64, count int, sign float64) []int {
	work := make([]float64, len(d))
	copy(work, d)
	floats.Scale(sign, work)

	radius := e.zeroRadius()
	var (
		found     []int
		strongest float64
	)
	for len(found) < count {
		idx := floats.MaxIdx(work)
		v := work[idx]
		if v <= 0 {
			break
		}
		if len(found) == 0 {
			strongest = v
		} else if v < MinEdgeStrengthRatio*strongest {
			break
		}
		found = append(found, idx)

		lo := dsp.ClampIndex(idx-radius, 0, len(work)-1)
		hi := dsp.ClampIndex(idx+radius, 0, len(work)-1)
		for i := lo; i <= hi; i++ {
			work[i] = 0
		}
	}
	return found
}
