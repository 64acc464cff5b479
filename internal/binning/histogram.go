package binning

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultHistogramBins is used when the bin count cannot be derived from the data.
	DefaultHistogramBins = 50
	// MinAutoHistogramBins is the smallest derived bin count; narrower
	// spreads use DefaultHistogramBins.
	MinAutoHistogramBins = 5
	// MaxAutoHistogramBins caps the derived bin count.
	MaxAutoHistogramBins = 1000
)

// Histogram counts values into numBins equal-width bins over [min, max].
// Every bin is half-open except the last, which also holds max. It returns
// numBins+1 edges and numBins counts.
//
// numBins <= 0 selects int(max-min) bins, so integer counts get one bin per
// count. Spreads below MinAutoHistogramBins use DefaultHistogramBins and
// wide spreads are capped at MaxAutoHistogramBins. Non-finite
// values are ignored. When all values coincide the range is widened by 0.5
// on either side.
func Histogram(values []float64, numBins int) (edges, counts []float64) {
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			x = append(x, v)
		}
	}
	if len(x) == 0 {
		return nil, nil
	}
	sort.Float64s(x)

	lo, hi := x[0], x[len(x)-1]
	if numBins <= 0 {
		numBins = autoBins(hi - lo)
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	edges = make([]float64, numBins+1)
	step := (hi - lo) / float64(numBins)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[numBins] = hi

	// stat.Histogram bins are half-open, so nudge the last divider past hi.
	dividers := make([]float64, len(edges))
	copy(dividers, edges)
	dividers[numBins] = math.Nextafter(hi, math.Inf(1))

	counts = stat.Histogram(nil, dividers, x, nil)
	return edges, counts
}

func autoBins(spread float64) int {
	switch {
	case spread < MinAutoHistogramBins:
		return DefaultHistogramBins
	case spread > MaxAutoHistogramBins:
		return MaxAutoHistogramBins
	default:
		return int(spread)
	}
}

// Centers returns the midpoints of consecutive edges.
func Centers(edges []float64) []float64 {
	if len(edges) < 2 {
		return nil
	}
	out := make([]float64, len(edges)-1)
	for i := range out {
		out[i] = (edges[i] + edges[i+1]) / 2
	}
	return out
}
