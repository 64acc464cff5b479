package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

var sqrt2Pi = math.Sqrt(2 * math.Pi)

// fwhmPerSigma converts a Gaussian standard deviation to its full width at
// half maximum.
const fwhmPerSigma = 2.3548200450309493

// gaussianAt is an area-normalized Gaussian: its integral is amplitude.
func gaussianAt(x, amplitude, center, sigma float64) float64 {
	d := (x - center) / sigma
	return amplitude / (math.Abs(sigma) * sqrt2Pi) * math.Exp(-0.5*d*d)
}

func gaussianModel(axis Axis, p Values) []float64 {
	out := make([]float64, len(axis.X))
	amp, center, sigma, offset := p["amplitude"], p["center"], p["sigma"], p["offset"]
	for i, x := range axis.X {
		out[i] = offset + gaussianAt(x, amp, center, sigma)
	}
	return out
}

func gaussianDefaults() ParameterSet {
	return NewParameterSet(
		NewParameter("amplitude", 1),
		NewParameter("center", 0),
		NewParameter("sigma", 1),
		NewParameter("offset", 0),
		NewParameter("fwhm", fwhmPerSigma).Derived(fmt.Sprintf("%v*sigma", fwhmPerSigma)),
	)
}

// estimateGaussian places the center on the maximum and spreads the peak
// over a third of the scan.
func estimateGaussian(axis Axis, data []float64, _ monitoring.Logger) (ParameterSet, error) {
	if err := checkSeries(axis, data, 3); err != nil {
		return ParameterSet{}, err
	}
	s := statsOf(axis.X)
	sigma := clampInto(s.span/3, s.step, 3*s.span)
	amplitude := (floats.Max(data) - floats.Min(data)) * sigma * sqrt2Pi
	cLo, cHi := s.centerBounds()

	ps := gaussianDefaults()
	ps.Set(NewParameter("amplitude", amplitude))
	ps.Set(NewParameter("center", axis.X[floats.MaxIdx(data)]).Bounded(cLo, cHi))
	ps.Set(NewParameter("sigma", sigma).Bounded(s.step, 3*s.span))
	ps.Set(NewParameter("offset", floats.Min(data)))
	return ps, nil
}

func gaussianDefinition() *ModelDefinition {
	return &ModelDefinition{
		Name:        "gaussian",
		Description: "Area-normalized Gaussian peak with constant offset.",
		Dimensions:  1,
		Model:       gaussianModel,
		Estimate:    estimateGaussian,
		Defaults:    gaussianDefaults,
	}
}

func gaussian2DModel(axis Axis, p Values) []float64 {
	out := make([]float64, len(axis.X))
	amp, offset := p["amplitude"], p["offset"]
	x0, y0 := p["center_x"], p["center_y"]
	sx2, sy2 := p["sigma_x"]*p["sigma_x"], p["sigma_y"]*p["sigma_y"]
	sin, cos := math.Sincos(p["theta"])
	sin2 := math.Sin(2 * p["theta"])

	a := cos*cos/(2*sx2) + sin*sin/(2*sy2)
	b := -sin2/(4*sx2) + sin2/(4*sy2)
	c := sin*sin/(2*sx2) + cos*cos/(2*sy2)
	for i := range out {
		du := axis.X[i] - x0
		var dv float64
		if axis.Y != nil {
			dv = axis.Y[i] - y0
		}
		out[i] = offset + amp*math.Exp(-(a*du*du + 2*b*du*dv + c*dv*dv))
	}
	return out
}

func gaussian2DDefaults() ParameterSet {
	return NewParameterSet(
		NewParameter("amplitude", 1),
		NewParameter("center_x", 0),
		NewParameter("center_y", 0),
		NewParameter("sigma_x", 1),
		NewParameter("sigma_y", 1),
		NewParameter("theta", 0).Bounded(0, math.Pi),
		NewParameter("offset", 0),
	)
}

func estimateGaussian2D(axis Axis, data []float64, _ monitoring.Logger) (ParameterSet, error) {
	if axis.Y == nil {
		return ParameterSet{}, fmt.Errorf("%w: gaussian_2d needs a y axis", ErrEstimate)
	}
	if err := axis.check(data); err != nil {
		return ParameterSet{}, err
	}
	if len(data) < 7 {
		return ParameterSet{}, fmt.Errorf("%w: need at least 7 samples, have %d", ErrEstimate, len(data))
	}
	peak := floats.MaxIdx(data)
	ps := gaussian2DDefaults()
	ps.SetValue("amplitude", floats.Max(data)-floats.Min(data))
	ps.SetValue("center_x", axis.X[peak])
	ps.SetValue("center_y", axis.Y[peak])
	ps.SetValue("sigma_x", finiteOr((floats.Max(axis.X)-floats.Min(axis.X))/3, 1))
	ps.SetValue("sigma_y", finiteOr((floats.Max(axis.Y)-floats.Min(axis.Y))/3, 1))
	ps.SetValue("theta", 0)
	ps.SetValue("offset", floats.Min(data))
	return ps, nil
}

func gaussian2DDefinition() *ModelDefinition {
	return &ModelDefinition{
		Name:        "gaussian_2d",
		Description: "Elliptical two-dimensional Gaussian with rotation angle theta in [0, pi].",
		Dimensions:  2,
		Model:       gaussian2DModel,
		Estimate:    estimateGaussian2D,
		Defaults:    gaussian2DDefaults,
	}
}

func doubleGaussianModel(axis Axis, p Values) []float64 {
	out := make([]float64, len(axis.X))
	for i, x := range axis.X {
		out[i] = p["offset"] +
			gaussianAt(x, p["g0_amplitude"], p["g0_center"], p["g0_sigma"]) +
			gaussianAt(x, p["g1_amplitude"], p["g1_center"], p["g1_sigma"])
	}
	return out
}

func doubleGaussianDefaults() ParameterSet {
	return NewParameterSet(
		NewParameter("offset", 0).Bounded(0, math.Inf(1)),
		NewParameter("g0_amplitude", 1).Bounded(0, math.Inf(1)),
		NewParameter("g0_center", -1),
		NewParameter("g0_sigma", 1),
		NewParameter("g1_amplitude", 1).Bounded(0, math.Inf(1)),
		NewParameter("g1_center", 1),
		NewParameter("g1_sigma", 1),
	)
}

// estimateDoubleGaussian treats the two peaks as dips of the negated,
// smoothed data and shares one width derived from the total area.
func estimateDoubleGaussian(axis Axis, data []float64, log monitoring.Logger) (ParameterSet, error) {
	if err := checkSeries(axis, data, 5); err != nil {
		return ParameterSet{}, err
	}
	smooth := gaussianSmooth(data)
	negated := make([]float64, len(smooth))
	floats.ScaleTo(negated, -1, smooth)
	dips := gaussianDipSearch.find(negated, log)

	amp0, amp1 := smooth[dips.Dip0], smooth[dips.Dip1]
	total := area(axis.X, smooth)
	if amp0+amp1 <= 0 || total <= 0 {
		return ParameterSet{}, fmt.Errorf("%w: no positive peaks", ErrEstimate)
	}
	sigma := total / (amp0 + amp1) / sqrt2Pi

	s := statsOf(axis.X)
	sigma = clampInto(sigma, s.step/2, 2*s.span)
	ps := doubleGaussianDefaults()
	ps.SetValue("offset", 0)
	ps.SetValue("g0_amplitude", amp0*sigma*sqrt2Pi)
	ps.SetValue("g0_center", axis.X[dips.Dip0])
	ps.Set(NewParameter("g0_sigma", sigma).Bounded(s.step/2, 2*s.span))
	ps.SetValue("g1_amplitude", amp1*sigma*sqrt2Pi)
	ps.SetValue("g1_center", axis.X[dips.Dip1])
	ps.Set(NewParameter("g1_sigma", sigma).Bounded(s.step/2, 2*s.span))
	swapLines(&ps, nil, "g0_", "g1_", []string{"amplitude", "center", "sigma"})
	return ps, nil
}

func doubleGaussianDefinition() *ModelDefinition {
	fields := []string{"amplitude", "center", "sigma"}
	return &ModelDefinition{
		Name:        "gaussian_double",
		Description: "Sum of two area-normalized Gaussians with a shared offset.",
		Dimensions:  1,
		Model:       doubleGaussianModel,
		Estimate:    estimateDoubleGaussian,
		Defaults:    doubleGaussianDefaults,
		Canonicalize: func(ps *ParameterSet, stderr map[string]float64) {
			swapLines(ps, stderr, "g0_", "g1_", fields)
		},
	}
}
