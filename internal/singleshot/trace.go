package singleshot

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pulsefit/internal/binning"
)

// GuessThreshold takes the bins whose count exceeds maxRatio of the
// tallest bin and returns the center halfway between the first and last
// of them. It returns 0 for an empty histogram.
func GuessThreshold(centers, counts []float64, maxRatio float64) float64 {
	if len(counts) == 0 || len(centers) < len(counts) {
		return 0
	}
	limit := floats.Max(counts) * maxRatio
	first, last := -1, -1
	for i, c := range counts {
		if c > limit {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return centers[len(counts)/2]
	}
	return centers[(first+last)/2]
}

// BinaryTrace marks every sample at or below threshold (dark) as true.
func BinaryTrace(trace []float64, threshold float64) []bool {
	out := make([]bool, len(trace))
	for i, v := range trace {
		out[i] = v <= threshold
	}
	return out
}

// FilterIndices returns the indices and values of the samples at or below
// threshold, or strictly above it when below is false.
func FilterIndices(trace []float64, threshold float64, below bool) (indices []int, values []float64) {
	for i, v := range trace {
		if (v <= threshold) == below {
			indices = append(indices, i)
			values = append(values, v)
		}
	}
	return indices, values
}

// FlipStats counts bright to dark transitions of a thresholded trace.
type FlipStats struct {
	// Probability is the fraction of bright samples followed by a dark one.
	Probability float64 `json:"probability"`
	FlipsToDark int     `json:"flips_to_dark"`
	Dark        int     `json:"dark"`
	Bright      int     `json:"bright"`
}

// FlipProbability computes the bright to dark flip statistics of trace.
// A bright sample is one strictly above threshold; the last sample has no
// successor and is not counted as a transition.
func FlipProbability(trace []float64, threshold float64) FlipStats {
	dark := BinaryTrace(trace, threshold)
	bright, _ := FilterIndices(trace, threshold, false)

	stats := FlipStats{Bright: len(bright), Dark: len(trace) - len(bright)}
	transitions := 0
	for _, i := range bright {
		if i+1 >= len(trace) {
			continue
		}
		transitions++
		if dark[i+1] {
			stats.FlipsToDark++
		}
	}
	if transitions > 0 {
		stats.Probability = float64(stats.FlipsToDark) / float64(transitions)
	}
	return stats
}

// TraceAnalysis is the threshold and flip statistics of one trace.
type TraceAnalysis struct {
	Threshold
	Flips  FlipStats `json:"flips"`
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
}

// AnalyzeTrace histograms trace into numBins bins (0 derives them from the
// spread), places the threshold and counts flips against it.
func (t *ThresholdEstimator) AnalyzeTrace(ctx context.Context, trace []float64, numBins int) TraceAnalysis {
	edges, counts := binning.Histogram(trace, numBins)
	thr := t.Estimate(ctx, edges, counts)
	return TraceAnalysis{
		Threshold: thr,
		Flips:     FlipProbability(trace, thr.Threshold),
		Edges:     edges,
		Counts:    counts,
	}
}
