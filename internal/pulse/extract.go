package pulse

import (
	"sort"

	"github.com/banshee-data/pulsefit/internal/dsp"
	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// StepEdgeLevelFraction decides whether an edge between two abutting pulses
// is a step: the level on the darker side must stay above this fraction of
// the level on the brighter side. Below it the edge is a real pulse boundary.
const StepEdgeLevelFraction = 0.25

// Extractor slices laser pulses out of a TimeTrace.
type Extractor struct {
	edges *EdgeDetector
	log   monitoring.Logger
}

// NewExtractor creates an extractor using edge smoothing width sigma.
func NewExtractor(sigma float64, log monitoring.Logger) *Extractor {
	log = monitoring.OrNop(log)
	return &Extractor{edges: NewEdgeDetector(sigma, log), log: log}
}

// Sigma returns the edge smoothing width.
func (e *Extractor) Sigma() float64 { return e.edges.Sigma }

// Extract dispatches on the trace kind. numPulses is ignored for gated traces.
func (e *Extractor) Extract(trace TimeTrace, numPulses int) PulseSet {
	if trace.IsGated() {
		return e.Gated(trace.Gated)
	}
	return e.Ungated(trace.Ungated, numPulses)
}

// Ungated extracts numPulses pulses from a continuous trace. All pulses
// share the length of the longest detected pulse; slices running past the
// end of counts are zero-padded. If fewer edges than requested are found,
// the pulses that could be paired are returned and a warning is logged.
func (e *Extractor) Ungated(counts []int, numPulses int) PulseSet {
	windows := e.FindWindows(counts, numPulses)
	out := make(PulseSet, len(windows))
	for i, w := range windows {
		out[i] = w.Slice(counts)
	}
	return out
}

// FindWindows returns the window of every pulse in counts, sorted by start.
// All windows have the same length.
func (e *Extractor) FindWindows(counts []int, numPulses int) []Window {
	if numPulses <= 0 || len(counts) == 0 {
		return nil
	}
	trace := dsp.ToFloat64(counts)
	rising, falling := e.edges.FindEdges(trace, numPulses)

	if len(rising) < numPulses {
		rising = e.addSteps(counts, rising, falling, numPulses, stepBelowBright)
	}
	if len(falling) < numPulses {
		falling = e.addSteps(counts, falling, rising, numPulses, stepAboveDark)
	}
	sort.Ints(rising)
	sort.Ints(falling)

	pairs := min(len(rising), len(falling))
	if len(rising) < numPulses || len(falling) < numPulses {
		e.log.Opsf("ungated extraction: found %d rising and %d falling edges for %d pulses, returning %d pulses",
			len(rising), len(falling), numPulses, pairs)
	}

	length := 0
	for i := 0; i < pairs; i++ {
		length = max(length, falling[i]-rising[i])
	}
	if length <= 0 {
		if pairs > 0 {
			e.log.Opsf("ungated extraction: edges do not form any pulse (rising=%v falling=%v)", rising, falling)
		}
		return nil
	}

	windows := make([]Window, pairs)
	for i := range windows {
		windows[i] = Window{Start: rising[i], Stop: rising[i] + length}
	}
	e.log.Diagf("ungated extraction: %d pulses of length %d", pairs, length)
	return windows
}

type stepKind int

const (
	// a falling edge after which the next pulse starts at a lower level
	stepBelowBright stepKind = iota
	// a rising edge before which the previous pulse ran at a lower level
	stepAboveDark
)

// addSteps promotes opposite-polarity edges that are steps between two
// abutting pulses into additional edges of the wanted polarity.
func (e *Extractor) addSteps(counts []int, have, candidates []int, want int, kind stepKind) []int {
	w := e.edges.zeroRadius()
	out := append([]int(nil), have...)
	for _, c := range candidates {
		if len(out) >= want {
			break
		}
		if contains(out, c) {
			continue
		}
		before := meanLevel(counts, c-2*w, c-w)
		after := meanLevel(counts, c+w, c+2*w)

		var isStep bool
		switch kind {
		case stepBelowBright:
			isStep = after > StepEdgeLevelFraction*before
		case stepAboveDark:
			isStep = before > StepEdgeLevelFraction*after
		}
		if isStep {
			e.log.Diagf("ungated extraction: edge at %d is a step between abutting pulses (level %.4g -> %.4g)", c, before, after)
			out = append(out, c)
		}
	}
	return out
}

// meanLevel is the mean of counts over [lo, hi) clipped to the trace; bins
// outside the trace are dark.
func meanLevel(counts []int, lo, hi int) float64 {
	if hi <= lo {
		return 0
	}
	total := Window{Start: lo, Stop: hi}.Sum(counts)
	return float64(total) / float64(hi-lo)
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Gated sums all gate rows, finds the single shared laser window and slices
// every row by it. Without a usable edge pair the full rows are returned
// and a warning is logged.
func (e *Extractor) Gated(counts [][]int) PulseSet {
	if len(counts) == 0 {
		return PulseSet{}
	}
	width := 0
	for _, row := range counts {
		width = max(width, len(row))
	}
	total := make([]float64, width)
	for _, row := range counts {
		for j, c := range row {
			total[j] += float64(c)
		}
	}

	window := Window{Start: 0, Stop: width}
	rising, falling := e.edges.FindEdges(total, 1)
	if len(rising) == 1 && len(falling) == 1 && falling[0] > rising[0] {
		window = Window{Start: rising[0], Stop: falling[0]}
	} else {
		e.log.Opsf("gated extraction: no rising/falling edge pair found (rising=%v falling=%v), keeping full gates", rising, falling)
	}

	out := make(PulseSet, len(counts))
	for i, row := range counts {
		out[i] = window.Slice(row)
	}
	e.log.Diagf("gated extraction: %d gates, window [%d, %d)", len(counts), window.Start, window.Stop)
	return out
}

// Threshold extracts pulses as runs of bins with counts at or above
// threshold. Runs separated by at most tolerance sub-threshold bins are
// merged; runs shorter than minLength are dropped. Shorter pulses are padded
// with their last sample.
func (e *Extractor) Threshold(counts []int, threshold, minLength, tolerance int) PulseSet {
	var runs []Window
	start, last := -1, -1
	for i, c := range counts {
		if c < threshold {
			continue
		}
		switch {
		case start < 0:
			start = i
		case i-last-1 > tolerance:
			runs = append(runs, Window{Start: start, Stop: last + 1})
			start = i
		}
		last = i
	}
	if start >= 0 {
		runs = append(runs, Window{Start: start, Stop: last + 1})
	}

	kept := runs[:0]
	for _, r := range runs {
		if r.Len() >= minLength {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		e.log.Opsf("threshold extraction: no pulse of at least %d bins at threshold %d", minLength, threshold)
		return PulseSet{}
	}

	length := 0
	for _, r := range kept {
		length = max(length, r.Len())
	}
	out := make(PulseSet, len(kept))
	for i, r := range kept {
		row := make([]int, length)
		n := copy(row, counts[r.Start:r.Stop])
		for j := n; j < length; j++ {
			row[j] = row[n-1]
		}
		out[i] = row
	}
	e.log.Diagf("threshold extraction: %d pulses of length %d", len(out), length)
	return out
}

// Excise cuts numPulses fixed-length pulses without edge detection. The
// first pulse starts at offset; the second at offset+spacing; each later
// gap grows by increment. Slices past the end are zero-padded.
func (e *Extractor) Excise(counts []int, numPulses, length, offset, spacing, increment int) PulseSet {
	if numPulses <= 0 || length <= 0 {
		return PulseSet{}
	}
	out := make(PulseSet, numPulses)
	start, stop := offset, 0
	for i := 0; i < numPulses; i++ {
		w := Window{Start: start, Stop: start + length}
		out[i] = w.Slice(counts)
		stop = w.Stop
		if i == 0 {
			start = offset + spacing
		} else {
			start += spacing + i*increment
		}
	}
	if stop > len(counts) {
		e.log.Opsf("excise extraction: last pulse ends at %d, past the end of the trace (%d bins)", stop, len(counts))
	}
	return out
}
