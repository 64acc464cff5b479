// Package pulse turns raw photon-counter time traces into laser pulses and
// reduces those pulses to one scalar per repetition.
//
// The trace is treated as dark outside the acquisition window, so a pulse
// that starts at bin 0 or runs to the last bin still has two edges.
package pulse

// TimeTrace is the raw acquisition. Exactly one of Ungated or Gated is set.
type TimeTrace struct {
	Ungated []int
	Gated   [][]int
}

// IsGated reports whether the trace was segmented by the counter hardware.
func (t TimeTrace) IsGated() bool { return t.Gated != nil }

// PulseSet is a rectangular set of pulses, one row per pulse (or gate).
// Rows are right-padded to a common length.
type PulseSet [][]int

// Len returns the number of pulses.
func (p PulseSet) Len() int { return len(p) }

// Width returns the common row length, or 0 for an empty set.
func (p PulseSet) Width() int {
	if len(p) == 0 {
		return 0
	}
	return len(p[0])
}

// Window is the half-open index range [Start, Stop) of one detected pulse.
// Stop may lie beyond the end of the trace; Slice pads with zeros.
type Window struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// Len returns Stop-Start.
func (w Window) Len() int { return w.Stop - w.Start }

// Slice copies counts[Start:Stop], zero-padding past the end of counts.
func (w Window) Slice(counts []int) []int {
	if w.Len() <= 0 {
		return []int{}
	}
	out := make([]int, w.Len())
	for i := range out {
		j := w.Start + i
		if j >= 0 && j < len(counts) {
			out[i] = counts[j]
		}
	}
	return out
}

// Sum integrates counts over the window, ignoring bins outside counts.
func (w Window) Sum(counts []int) int {
	start := max(w.Start, 0)
	stop := min(w.Stop, len(counts))
	total := 0
	for i := start; i < stop; i++ {
		total += counts[i]
	}
	return total
}
