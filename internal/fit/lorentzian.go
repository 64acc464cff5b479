package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pulsefit/internal/dsp"
	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// Hyperfine splittings of the NV centre resonance, in Hz.
const (
	N14Splitting = 2.15e6
	N15Splitting = 3.03e6
)

// lorentzianAt has height amplitude at center and half width sigma.
func lorentzianAt(x, amplitude, center, sigma float64) float64 {
	d := x - center
	return amplitude * sigma * sigma / (d*d + sigma*sigma)
}

// linesModel sums len(prefixes) Lorentzians named <prefix>amplitude,
// <prefix>center and <prefix>sigma on a shared offset.
func linesModel(prefixes ...string) ModelFunc {
	return func(axis Axis, p Values) []float64 {
		out := make([]float64, len(axis.X))
		for i := range out {
			out[i] = p["offset"]
		}
		for _, pre := range prefixes {
			amp, center, sigma := p[pre+"amplitude"], p[pre+"center"], p[pre+"sigma"]
			for i, x := range axis.X {
				out[i] += lorentzianAt(x, amp, center, sigma)
			}
		}
		return out
	}
}

func contrastExpr(prefix string) string {
	return fmt.Sprintf("offset == 0.0 ? 0.0 : %samplitude / offset * 100", prefix)
}

// lineParams returns amplitude, center, sigma and the derived fwhm and
// contrast of one line.
func lineParams(prefix string, amplitude, center, sigma float64) []Parameter {
	return []Parameter{
		NewParameter(prefix+"amplitude", amplitude),
		NewParameter(prefix+"center", center),
		NewParameter(prefix+"sigma", sigma),
		NewParameter(prefix+"fwhm", 2*sigma).Derived("2*" + prefix + "sigma"),
		NewParameter(prefix+"contrast", 0).Derived(contrastExpr(prefix)),
	}
}

// swapLines exchanges two lines of a multiplet when the first lies to the
// right of the second. Derived lines only exchange values.
func swapLines(ps *ParameterSet, stderr map[string]float64, a, b string, fields []string) {
	swapBy(ps, stderr, a, b, "center", fields)
}

// swapBy exchanges fields between the lines prefixed a and b when line a
// has the larger key.
func swapBy(ps *ParameterSet, stderr map[string]float64, a, b, key string, fields []string) {
	if !(ps.Value(a+key) > ps.Value(b+key)) {
		return
	}
	for _, f := range fields {
		pa, okA := ps.Get(a + f)
		pb, okB := ps.Get(b + f)
		if !okA || !okB {
			continue
		}
		if pa.Expr == "" && pb.Expr == "" {
			pa.Value, pb.Value = pb.Value, pa.Value
			pa.Min, pb.Min = pb.Min, pa.Min
			pa.Max, pb.Max = pb.Max, pa.Max
			pa.Vary, pb.Vary = pb.Vary, pa.Vary
		} else {
			pa.Value, pb.Value = pb.Value, pa.Value
		}
		ps.Set(pa)
		ps.Set(pb)
		if stderr != nil {
			ea, hasA := stderr[a+f]
			eb, hasB := stderr[b+f]
			delete(stderr, a+f)
			delete(stderr, b+f)
			if hasA {
				stderr[b+f] = ea
			}
			if hasB {
				stderr[a+f] = eb
			}
		}
	}
}

// lorentzDip is the shared estimate of a single dip.
type lorentzDip struct {
	offset, amplitude, center, sigma float64
}

func estimateDip(axis Axis, data []float64) (lorentzDip, error) {
	smooth, offset := findOffset(data)
	level := make([]float64, len(smooth))
	for i, v := range smooth {
		level[i] = v - offset
	}

	amplitude := floats.Min(level)
	if amplitude >= 0 {
		return lorentzDip{}, fmt.Errorf("%w: no dip below the offset", ErrEstimate)
	}
	integral := area(axis.X, level)
	return lorentzDip{
		offset:    offset,
		amplitude: amplitude,
		center:    axis.X[floats.MinIdx(smooth)],
		sigma:     math.Abs(integral / (math.Pi * amplitude)),
	}, nil
}

func lorentzianDefaults(peak bool) func() ParameterSet {
	return func() ParameterSet {
		amp := -1.0
		if peak {
			amp = 1
		}
		ps := NewParameterSet(lineParams("", amp, 0, 1)...)
		ps.Add(NewParameter("offset", 0))
		return ps
	}
}

// estimateLorentzian levels the smoothed data by its most common value and
// takes the width from the dip area, ∫level = π·amplitude·sigma. Peaks are
// estimated as dips of the negated data.
func estimateLorentzian(peak bool) EstimatorFunc {
	return func(axis Axis, data []float64, _ monitoring.Logger) (ParameterSet, error) {
		if err := checkSeries(axis, data, 3); err != nil {
			return ParameterSet{}, err
		}
		sign := 1.0
		if peak {
			sign = -1
		}
		d, err := estimateDip(axis, scaled(sign, data))
		if err != nil {
			return ParameterSet{}, err
		}
		s := statsOf(axis.X)
		cLo, cHi := s.centerBounds()

		ps := lorentzianDefaults(peak)()
		if peak {
			ps.Set(NewParameter("amplitude", -d.amplitude).Bounded(1e-12, math.Inf(1)))
		} else {
			ps.Set(NewParameter("amplitude", d.amplitude).Bounded(math.Inf(-1), -1e-12))
		}
		ps.Set(NewParameter("center", d.center).Bounded(cLo, cHi))
		ps.Set(NewParameter("sigma", clampInto(d.sigma, s.step/2, 10*s.span)).Bounded(s.step/2, 10*s.span))
		ps.SetValue("offset", sign*d.offset)
		return ps, nil
	}
}

func scaled(f float64, data []float64) []float64 {
	out := make([]float64, len(data))
	floats.ScaleTo(out, f, data)
	return out
}

func lorentzianDefinition(name string, peak bool) *ModelDefinition {
	desc := "Lorentzian dip with constant offset."
	if peak {
		desc = "Lorentzian peak with constant offset."
	}
	return &ModelDefinition{
		Name:        name,
		Description: desc,
		Dimensions:  1,
		Model:       linesModel(""),
		Estimate:    estimateLorentzian(peak),
		Defaults:    lorentzianDefaults(peak),
	}
}

var doubleLorentzianFields = []string{"amplitude", "center", "sigma", "fwhm", "contrast"}

func doubleLorentzianDefaults(peak bool) func() ParameterSet {
	return func() ParameterSet {
		amp := -1.0
		if peak {
			amp = 1
		}
		var ps ParameterSet
		for i, pre := range []string{"l0_", "l1_"} {
			for _, p := range lineParams(pre, amp, float64(2*i-1), 1) {
				ps.Add(p)
			}
		}
		ps.Add(NewParameter("offset", 0))
		return ps
	}
}

// estimateDoubleLorentzian brackets the deepest dip, searches the rest of
// the scan for a second one and halves both amplitudes when they coincide.
func estimateDoubleLorentzian(peak bool) EstimatorFunc {
	return func(axis Axis, data []float64, log monitoring.Logger) (ParameterSet, error) {
		if err := checkSeries(axis, data, 5); err != nil {
			return ParameterSet{}, err
		}
		sign := 1.0
		if peak {
			sign = -1
		}
		smooth, offset := findOffset(scaled(sign, data))
		level := make([]float64, len(smooth))
		for i, v := range smooth {
			level[i] = v - offset
		}
		dips := lorentzianDipSearch.find(level, log)

		amp0, amp1 := level[dips.Dip0], level[dips.Dip1]
		if dips.Dip0 == dips.Dip1 {
			amp0 /= 2
			amp1 = amp0
		}
		if amp0 >= 0 || amp1 >= 0 {
			return ParameterSet{}, fmt.Errorf("%w: no dips below the offset", ErrEstimate)
		}
		integral := 0.0
		if dips.Right0 > dips.Left0 {
			integral = area(axis.X[dips.Left0:dips.Right0+1], level[dips.Left0:dips.Right0+1])
		}

		s := statsOf(axis.X)
		cLo, cHi := s.centerBounds()
		sLo, sHi := s.step/2, 4*s.span
		ps := doubleLorentzianDefaults(peak)()
		for _, line := range []struct {
			prefix string
			dip    int
			amp    float64
		}{{"l0_", dips.Dip0, amp0}, {"l1_", dips.Dip1, amp1}} {
			sigma := clampInto(finiteOr(math.Abs(integral/(math.Pi*line.amp)), s.step), sLo, sHi)
			if peak {
				ps.Set(NewParameter(line.prefix+"amplitude", -line.amp).Bounded(1e-12, math.Inf(1)))
			} else {
				ps.Set(NewParameter(line.prefix+"amplitude", line.amp).Bounded(math.Inf(-1), -1e-12))
			}
			ps.Set(NewParameter(line.prefix+"center", axis.X[line.dip]).Bounded(cLo, cHi))
			ps.Set(NewParameter(line.prefix+"sigma", sigma).Bounded(sLo, sHi))
		}
		ps.SetValue("offset", sign*offset)
		swapLines(&ps, nil, "l0_", "l1_", doubleLorentzianFields)
		return ps, nil
	}
}

func doubleLorentzianDefinition(name string, peak bool) *ModelDefinition {
	desc := "Two Lorentzian dips on a shared offset, ordered by center."
	if peak {
		desc = "Two Lorentzian peaks on a shared offset, ordered by center."
	}
	return &ModelDefinition{
		Name:        name,
		Description: desc,
		Dimensions:  1,
		Model:       linesModel("l0_", "l1_"),
		Estimate:    estimateDoubleLorentzian(peak),
		Defaults:    doubleLorentzianDefaults(peak),
		Canonicalize: func(ps *ParameterSet, stderr map[string]float64) {
			swapLines(ps, stderr, "l0_", "l1_", doubleLorentzianFields)
		},
	}
}

// hyperfine describes an equidistant multiplet of Lorentzian dips.
type hyperfine struct {
	name      string
	lines     int
	splitting float64
	// comb is the matched filter, one segment per MHz.
	comb []float64
	// combShift is the distance from the comb minimum to the first line.
	combShift float64
	// sigmaDivisor spreads the total area over the lines.
	sigmaDivisor float64
	// sigmaMinSteps is the lower width bound in axis steps.
	sigmaMinSteps float64
}

var (
	n14 = hyperfine{
		name: "n14", lines: 3, splitting: N14Splitting,
		comb: []float64{1, 0, 1, 0, 1}, combShift: N14Splitting,
		sigmaDivisor: 3, sigmaMinSteps: 0.25,
	}
	n15 = hyperfine{
		name: "n15", lines: 2, splitting: N15Splitting,
		comb: []float64{1, 0, 0, 1}, combShift: N15Splitting / 2,
		sigmaDivisor: 1, sigmaMinSteps: 1,
	}
)

func (h hyperfine) prefixes() []string {
	out := make([]string, h.lines)
	for i := range out {
		out[i] = fmt.Sprintf("l%d_", i)
	}
	return out
}

// params ties every line to line 0: centers by the splitting, widths and
// amplitudes by equality. Only l0_amplitude, l0_center, l0_sigma and
// offset vary.
func (h hyperfine) params(amplitude, center, sigma, offset float64) ParameterSet {
	var ps ParameterSet
	for i, pre := range h.prefixes() {
		line := lineParams(pre, amplitude, center+float64(i)*h.splitting, sigma)
		if i > 0 {
			line[0] = line[0].Derived("l0_amplitude")
			line[1] = line[1].Derived(fmt.Sprintf("l0_center + %.1f", float64(i)*h.splitting))
			line[2] = line[2].Derived("l0_sigma")
		}
		for _, p := range line {
			ps.Add(p)
		}
	}
	ps.Add(NewParameter("offset", offset))
	return ps
}

func (h hyperfine) defaults() ParameterSet {
	return h.params(-1, 2.87e9, 0.5e6, 1)
}

// estimate locates the multiplet with a comb filter matched to the line
// spacing and shares the dip area among the lines.
func (h hyperfine) estimate(axis Axis, data []float64, log monitoring.Logger) (ParameterSet, error) {
	if err := checkSeries(axis, data, 5); err != nil {
		return ParameterSet{}, err
	}
	s := statsOf(axis.X)
	if s.span < h.splitting/2 {
		return ParameterSet{}, fmt.Errorf("%w: %s scan of %g Hz is shorter than half the %g Hz splitting",
			ErrEstimate, h.name, s.span, h.splitting)
	}

	smooth, offset := findOffset(data)
	pointsPerMHz := float64(s.n) / s.span * 1e6
	length := int(float64(len(h.comb)) * pointsPerMHz)

	var first float64
	if length >= len(h.comb) {
		conv := convolveComb(smooth, combKernel(length, h.comb))
		first = axis.X[floats.MinIdx(conv)] - h.combShift
	} else {
		log.Diagf("%s: comb filter shorter than %d points, using the raw minimum", h.name, len(h.comb))
		first = axis.X[floats.MinIdx(smooth)] - h.combShift
	}

	level := make([]float64, len(smooth))
	for i, v := range smooth {
		level[i] = v - offset
	}
	minLevel := floats.Min(level)
	if minLevel >= 0 {
		return ParameterSet{}, fmt.Errorf("%w: no dip below the offset", ErrEstimate)
	}
	sigma := math.Abs(area(axis.X, level)/(math.Pi*minLevel)) / h.sigmaDivisor
	sLo, sHi := s.step*h.sigmaMinSteps, s.span

	ps := h.params(-math.Abs(minLevel), first, clampInto(sigma, sLo, sHi), offset)
	amp, _ := ps.Get("l0_amplitude")
	ps.Set(amp.Bounded(math.Inf(-1), -1e-12))
	sig, _ := ps.Get("l0_sigma")
	ps.Set(sig.Bounded(sLo, sHi))
	return ps, nil
}

func convolveComb(smooth, kernel []float64) []float64 {
	return dsp.Convolve(smooth, kernel, dsp.Constant, floats.Max(smooth))
}

func n14Definition() *ModelDefinition { return n14.definition() }
func n15Definition() *ModelDefinition { return n15.definition() }

func (h hyperfine) definition() *ModelDefinition {
	return &ModelDefinition{
		Name: h.name,
		Description: fmt.Sprintf("%d Lorentzian dips split by %g MHz with shared width and depth.",
			h.lines, h.splitting/1e6),
		Dimensions: 1,
		Model:      linesModel(h.prefixes()...),
		Estimate:   h.estimate,
		Defaults:   h.defaults,
	}
}
