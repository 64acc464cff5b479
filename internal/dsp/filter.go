// Package dsp holds the small one-dimensional filtering primitives shared by
// pulse extraction and the fit estimators: smoothing kernels, convolution
// with explicit boundary handling, and finite differences.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mode selects how samples beyond either end of the input are filled in.
type Mode int

const (
	// Constant pads with a fixed value.
	Constant Mode = iota
	// Mirror mirrors about the edge sample without repeating it (d c b | a b c d | c b a).
	Mirror
)

// truncate is the kernel radius in standard deviations.
const truncate = 4.0

// GaussianKernel returns a normalized Gaussian of standard deviation sigma,
// truncated at four sigma. A non-positive sigma yields the identity kernel.
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 || math.IsNaN(sigma) {
		return []float64{1}
	}
	radius := int(truncate*sigma + 0.5)
	k := make([]float64, 2*radius+1)
	for i := range k {
		x := float64(i - radius)
		k[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// GaussianWindow returns an unnormalized Gaussian window of m points with the
// given standard deviation, centred on (m-1)/2.
func GaussianWindow(m int, std float64) []float64 {
	w := make([]float64, m)
	mid := float64(m-1) / 2
	for i := range w {
		x := (float64(i) - mid) / std
		w[i] = math.Exp(-0.5 * x * x)
	}
	return w
}

// GaussianFilter smooths data with a Gaussian of standard deviation sigma.
func GaussianFilter(data []float64, sigma float64, mode Mode, cval float64) []float64 {
	return Convolve(data, GaussianKernel(sigma), mode, cval)
}

// Convolve correlates data with a symmetric kernel centred at len(kernel)/2.
// The output has the length of data.
func Convolve(data, kernel []float64, mode Mode, cval float64) []float64 {
	n := len(data)
	out := make([]float64, n)
	if n == 0 || len(kernel) == 0 {
		return out
	}
	origin := len(kernel) / 2
	for i := range out {
		var acc float64
		for j, w := range kernel {
			acc += w * sample(data, i+j-origin, mode, cval)
		}
		out[i] = acc
	}
	return out
}

// sample reads data[i], extending the array according to mode.
func sample(data []float64, i int, mode Mode, cval float64) float64 {
	n := len(data)
	if i >= 0 && i < n {
		return data[i]
	}
	switch mode {
	case Mirror:
		if n == 1 {
			return data[0]
		}
		period := 2 * (n - 1)
		i = ((i % period) + period) % period
		if i >= n {
			i = period - i
		}
		return data[i]
	default:
		return cval
	}
}

// Diff returns first differences, len(data)-1 long.
func Diff(data []float64) []float64 {
	if len(data) < 2 {
		return nil
	}
	out := make([]float64, len(data)-1)
	for i := range out {
		out[i] = data[i+1] - data[i]
	}
	return out
}

// ToFloat64 converts integer counts to float64.
func ToFloat64(counts []int) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = float64(c)
	}
	return out
}

// ClampIndex limits i to [lo, hi].
func ClampIndex(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

// AllFinite reports whether every value is neither NaN nor ±Inf.
func AllFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
