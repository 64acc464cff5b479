// Package binning rolls per-repetition pulse sums up into coarser
// integration windows and histograms the result.
//
// The optimal number of repetitions to integrate for a single-shot readout
// is not known in advance, so every width from 1 up to a limit is computed.
package binning

import (
	"github.com/banshee-data/pulsefit/internal/monitoring"
	"github.com/banshee-data/pulsefit/internal/pulse"
)

// Matrix holds summed counts, one row per repetition and one column per pulse.
type Matrix [][]float64

// Rows returns the number of repetitions.
func (m Matrix) Rows() int { return len(m) }

// Cols returns the number of pulses per repetition.
func (m Matrix) Cols() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Bin is one member of the family produced by CalcAllBinnings.
type Bin struct {
	Width  int       `json:"width"`
	Values []float64 `json:"values"`
	Rows   Matrix    `json:"-"`
}

// Rebin sums every width consecutive rows. A trailing partial group is
// discarded. width <= 1 returns a copy.
func Rebin(m Matrix, width int) Matrix {
	width = max(width, 1)
	groups := len(m) / width
	out := make(Matrix, groups)
	for g := range out {
		row := make([]float64, m.Cols())
		for r := g * width; r < (g+1)*width; r++ {
			for c, v := range m[r] {
				if c < len(row) {
					row[c] += v
				}
			}
		}
		out[g] = row
	}
	return out
}

// Binner computes binning families.
type Binner struct {
	reducer *pulse.Reducer
	log     monitoring.Logger
}

// NewBinner creates a Binner.
func NewBinner(log monitoring.Logger) *Binner {
	log = monitoring.OrNop(log)
	return &Binner{reducer: pulse.NewReducer(log), log: log}
}

// MaxWidth returns the largest width CalcAllBinnings will produce for n
// repetitions so that at least maxBins values remain.
func MaxWidth(n, maxBins int) int {
	if maxBins <= 0 {
		return 0
	}
	return n / maxBins
}

// CalcAllBinnings rebins m for every width in [1, Rows/maxBins]. With
// normalize set, each value is the normalized contrast of the first two
// columns; otherwise it is the row total.
func (b *Binner) CalcAllBinnings(m Matrix, maxBins int, normalize bool) []Bin {
	if normalize && m.Cols() < 2 {
		b.log.Opsf("binning: cannot normalize %d pulse column(s), using row totals", m.Cols())
		normalize = false
	}
	limit := MaxWidth(m.Rows(), maxBins)
	if limit < 1 {
		b.log.Opsf("binning: %d repetitions cannot hold %d bins", m.Rows(), maxBins)
		return nil
	}

	out := make([]Bin, 0, limit)
	for width := 1; width <= limit; width++ {
		rows := Rebin(m, width)
		values := make([]float64, len(rows))
		for i, row := range rows {
			if normalize {
				values[i] = b.reducer.NormalizeSums(row[0], row[1])
				continue
			}
			for _, v := range row {
				values[i] += v
			}
		}
		out = append(out, Bin{Width: width, Values: values, Rows: rows})
	}
	b.log.Diagf("binning: %d binnings of %d repetitions", len(out), m.Rows())
	return out
}
