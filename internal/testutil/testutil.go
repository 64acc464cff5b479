// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the synthetic traces and spectra used across
// test files so each package builds its inputs the same way.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewRand returns a deterministic generator for reproducible fixtures.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Linspace returns n evenly spaced samples over [start, stop].
func Linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Apply evaluates f at every x.
func Apply(x []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = f(v)
	}
	return out
}

// Gaussian is an area-normalized Gaussian on a constant offset.
func Gaussian(amplitude, center, sigma, offset float64) func(float64) float64 {
	return func(x float64) float64 {
		d := (x - center) / sigma
		return offset + amplitude/(sigma*math.Sqrt(2*math.Pi))*math.Exp(-0.5*d*d)
	}
}

// Line is one Lorentzian of a spectrum.
type Line struct {
	Amplitude, Center, Sigma float64
}

// Lorentzians sums lines on a constant offset.
func Lorentzians(offset float64, lines ...Line) func(float64) float64 {
	return func(x float64) float64 {
		y := offset
		for _, l := range lines {
			d := x - l.Center
			y += l.Amplitude * l.Sigma * l.Sigma / (d*d + l.Sigma*l.Sigma)
		}
		return y
	}
}

// SineDecay is offset + amplitude·sin(2πx/period + shift)·exp(-x·decay).
func SineDecay(amplitude, period, shift, decay, offset float64) func(float64) float64 {
	return func(x float64) float64 {
		return offset + amplitude*math.Sin(2*math.Pi*x/period+shift)*math.Exp(-x*decay)
	}
}

// AddNoise adds uniform noise in [-bound, bound] to every sample in place.
func AddNoise(rng *rand.Rand, data []float64, bound float64) []float64 {
	for i := range data {
		data[i] += (2*rng.Float64() - 1) * bound
	}
	return data
}

// Repeat returns value repeated count times.
func Repeat(value, count int) []int {
	out := make([]int, count)
	for i := range out {
		out[i] = value
	}
	return out
}

// PulseTrain concatenates runs of constant counts, given as value, length
// pairs.
func PulseTrain(runs ...int) []int {
	var out []int
	for i := 0; i+1 < len(runs); i += 2 {
		out = append(out, Repeat(runs[i], runs[i+1])...)
	}
	return out
}

// Normal draws n samples from N(mean, std).
func Normal(rng *rand.Rand, n int, mean, std float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + std*rng.NormFloat64()
	}
	return out
}

// Poisson draws n counts of mean lambda.
func Poisson(rng *rand.Rand, n int, lambda float64) []float64 {
	d := distuv.Poisson{Lambda: lambda, Src: rng}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

// Telegraph draws a trace of n samples that switches between a bright and
// a dark level. Each bright sample is followed by a dark one with
// probability leaveBright, each dark sample by a bright one with
// probability leaveDark. Levels carry Gaussian noise of width std.
func Telegraph(rng *rand.Rand, n int, bright, dark, std, leaveBright, leaveDark float64) []float64 {
	out := make([]float64, n)
	on := true
	for i := range out {
		level, leave := dark, leaveDark
		if on {
			level, leave = bright, leaveBright
		}
		out[i] = level + std*rng.NormFloat64()
		if rng.Float64() < leave {
			on = !on
		}
	}
	return out
}
