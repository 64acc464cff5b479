package fit

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// maxThresholdHalvings bounds the second-dip search.
const maxThresholdHalvings = 64

// dipSearch configures the double dip search. All thresholds are fractions
// of the deepest value of the levelled data.
type dipSearch struct {
	ThresholdFraction      float64
	MinimalThreshold       float64
	SigmaThresholdFraction float64
}

var (
	lorentzianDipSearch = dipSearch{ThresholdFraction: 0.3, MinimalThreshold: 0.01, SigmaThresholdFraction: 0.3}
	gaussianDipSearch   = dipSearch{ThresholdFraction: 0.4, MinimalThreshold: 0.2, SigmaThresholdFraction: 0.3}
)

// dipPair holds the indices of two dips and the brackets around each.
type dipPair struct {
	Left0, Dip0, Right0 int
	Left1, Dip1, Right1 int
	// Collapsed is set when no second dip could be isolated.
	Collapsed bool
}

// endOfDip walks from peak towards one end of data until the magnitude
// drops below threshold and returns that index. The end index is returned
// when the dip never falls below threshold.
func endOfDip(data []float64, peak, dir int, threshold float64) int {
	end := 0
	if dir > 0 {
		end = len(data) - 1
	}
	if peak == end {
		return peak
	}
	for i := peak; i >= 0 && i < len(data); i += dir {
		if math.Abs(data[i]) < math.Abs(threshold) {
			return i
		}
	}
	return end
}

// find locates the deepest dip of levelled data (dips negative), brackets
// it where the magnitude falls below SigmaThresholdFraction of the minimum,
// and searches the remainder for a second dip, halving the acceptance
// threshold until it drops below MinimalThreshold of the minimum.
func (s dipSearch) find(data []float64, log monitoring.Logger) dipPair {
	n := len(data)
	absMin := floats.Min(data)
	dip0 := floats.MinIdx(data)
	sigmaThreshold := s.SigmaThresholdFraction * absMin

	p := dipPair{Dip0: dip0}
	p.Left0 = endOfDip(data, dip0, -1, sigmaThreshold)
	p.Right0 = endOfDip(data, dip0, +1, sigmaThreshold)

	first, last := 0, n-1
	switch {
	case p.Left0 == first && p.Right0 == last:
		p.Dip1 = dip0
	case p.Left0 == first:
		p.Dip1 = p.Right0 + floats.MinIdx(data[p.Right0:last])
	case p.Right0 == last:
		p.Dip1 = floats.MinIdx(data[:p.Left0])
	default:
		p.Dip1 = s.second(data, p, absMin, log)
	}

	if p.Dip1 == p.Left0 || p.Dip1 == p.Right0 {
		// The second dip sits on a bracket of the first: treat them as
		// overlapping and place it by the asymmetry of the bracket.
		dl := absInt(dip0 - p.Left0)
		dr := absInt(dip0 - p.Right0)
		p.Left1, p.Right1 = p.Left0, p.Right0
		switch {
		case dl > dr:
			p.Dip1 = dip0 - absInt(dl-dr)
		case dl < dr:
			p.Dip1 = dip0 + absInt(dl-dr)
		default:
			p.Dip1 = dip0
		}
	} else {
		p.Left1 = endOfDip(data, p.Dip1, -1, sigmaThreshold)
		p.Right1 = endOfDip(data, p.Dip1, +1, sigmaThreshold)
	}
	if p.Dip1 == p.Dip0 {
		p.Collapsed = true
	}
	return p
}

func (s dipSearch) second(data []float64, p dipPair, absMin float64, log monitoring.Logger) int {
	left := data[:p.Left0]
	right := data[p.Right0 : len(data)-1]
	leftMin, leftArg := floats.Min(left), floats.MinIdx(left)
	rightMin, rightArg := floats.Min(right), floats.MinIdx(right)

	threshold := s.ThresholdFraction * absMin
	for i := 0; i < maxThresholdHalvings; i++ {
		if math.Abs(leftMin) > math.Abs(threshold) && math.Abs(leftMin) > math.Abs(rightMin) {
			return leftArg
		}
		if math.Abs(rightMin) > math.Abs(threshold) {
			return p.Right0 + rightArg
		}
		threshold /= 2
		if math.Abs(threshold/absMin) < math.Abs(s.MinimalThreshold) {
			break
		}
	}
	log.Opsf("threshold to minimum ratio too small to isolate two dips, collapsing both onto index %d", p.Dip0)
	return p.Dip0
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
