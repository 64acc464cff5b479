package fit

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solver defaults.
const (
	DefaultMaxIterations = 2000
	DefaultFTol          = 1e-10
	DefaultXTol          = 1e-10
	DefaultGTol          = 1e-12

	initialLambda = 1e-3
	maxLambda     = 1e15
	// jacobianStep is the central-difference step in internal coordinates,
	// which are scaled to order one.
	jacobianStep = 1e-6
	boundNudge   = 1e-8
)

// SolverSettings bounds one Levenberg-Marquardt solve.
type SolverSettings struct {
	MaxIterations int
	FTol          float64
	XTol          float64
	GTol          float64
}

func (s SolverSettings) withDefaults() SolverSettings {
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	if s.FTol <= 0 {
		s.FTol = DefaultFTol
	}
	if s.XTol <= 0 {
		s.XTol = DefaultXTol
	}
	if s.GTol <= 0 {
		s.GTol = DefaultGTol
	}
	return s
}

// boundTransform maps an unconstrained internal variable u onto the bounded
// external parameter x, following the MINUIT conventions:
//
//	[lo, hi]:  x = lo + (sin u + 1)(hi - lo)/2
//	[lo, +∞):  x = lo + s(√(u²+1) - 1)
//	(-∞, hi]:  x = hi - s(√(u²+1) - 1)
//	(-∞, +∞):  x = s·u
type boundTransform struct {
	lo, hi float64
	scale  float64
}

func newBoundTransform(p Parameter) boundTransform {
	t := boundTransform{lo: p.Min, hi: p.Max}
	var ref float64
	switch {
	case t.hasLo() && !t.hasHi():
		ref = p.Value - p.Min
	case t.hasHi() && !t.hasLo():
		ref = p.Max - p.Value
	default:
		ref = p.Value
	}
	t.scale = math.Abs(ref)
	if t.scale == 0 || math.IsNaN(t.scale) || math.IsInf(t.scale, 0) {
		t.scale = math.Abs(p.Value)
	}
	if t.scale == 0 || math.IsNaN(t.scale) || math.IsInf(t.scale, 0) {
		t.scale = 1
	}
	return t
}

func (t boundTransform) hasLo() bool { return !math.IsInf(t.lo, -1) }
func (t boundTransform) hasHi() bool { return !math.IsInf(t.hi, 1) }

func (t boundTransform) external(u float64) float64 {
	switch {
	case t.hasLo() && t.hasHi():
		return t.lo + (math.Sin(u)+1)*(t.hi-t.lo)/2
	case t.hasLo():
		return t.lo + t.scale*(math.Sqrt(u*u+1)-1)
	case t.hasHi():
		return t.hi - t.scale*(math.Sqrt(u*u+1)-1)
	default:
		return t.scale * u
	}
}

// internal inverts external. Values on a bound are moved inside by
// boundNudge so the solver can leave the bound again.
func (t boundTransform) internal(x float64) float64 {
	switch {
	case t.hasLo() && t.hasHi():
		if t.hi == t.lo {
			return 0
		}
		arg := 2*(x-t.lo)/(t.hi-t.lo) - 1
		return math.Asin(math.Max(-1+boundNudge, math.Min(1-boundNudge, arg)))
	case t.hasLo():
		r := math.Max((x-t.lo)/t.scale, boundNudge) + 1
		return math.Sqrt(r*r - 1)
	case t.hasHi():
		r := math.Max((t.hi-x)/t.scale, boundNudge) + 1
		return math.Sqrt(r*r - 1)
	default:
		return x / t.scale
	}
}

// problem is a least-squares objective over the free parameters of a set.
type problem struct {
	axis     Axis
	data     []float64
	model    ModelFunc
	base     Values
	free     []string
	bounds   []boundTransform
	resolver *resolver
	nfev     int
}

func newProblem(axis Axis, data []float64, model ModelFunc, ps ParameterSet) (*problem, error) {
	r, err := newResolver(ps)
	if err != nil {
		return nil, err
	}
	p := &problem{
		axis:     axis,
		data:     data,
		model:    model,
		base:     ps.Values(),
		free:     ps.FreeNames(),
		resolver: r,
	}
	for _, name := range p.free {
		param, _ := ps.Get(name)
		p.bounds = append(p.bounds, newBoundTransform(param))
	}
	return p, nil
}

// start returns the internal coordinates of the current free values.
func (p *problem) start() []float64 {
	u := make([]float64, len(p.free))
	for i, name := range p.free {
		u[i] = p.bounds[i].internal(p.base[name])
	}
	return u
}

// values maps internal coordinates to a full, resolved value set.
func (p *problem) values(u []float64) (Values, error) {
	vals := make(Values, len(p.base))
	for k, v := range p.base {
		vals[k] = v
	}
	for i, name := range p.free {
		vals[name] = p.bounds[i].external(u[i])
	}
	if err := p.resolver.resolve(vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// residuals writes model - data into dst. Failed evaluations yield NaN.
func (p *problem) residuals(dst, u []float64) {
	p.nfev++
	vals, err := p.values(u)
	if err != nil {
		for i := range dst {
			dst[i] = math.NaN()
		}
		return
	}
	curve := p.model(p.axis, vals)
	for i := range dst {
		if i < len(curve) {
			dst[i] = curve[i] - p.data[i]
		} else {
			dst[i] = math.NaN()
		}
	}
}

func sumSquares(r []float64) float64 {
	s := floats.Dot(r, r)
	if math.IsNaN(s) {
		return math.Inf(1)
	}
	return s
}

// solveResult is the outcome of one solver attempt.
type solveResult struct {
	Success    bool
	Message    string
	Values     Values
	Residual   []float64
	ChiSquare  float64
	Iterations int
	Evals      int
	// Stderr is nil when the covariance could not be computed.
	Stderr map[string]float64
}

// solve minimises Σ(model - data)² over the free parameters of ps with a
// Levenberg-Marquardt iteration in bounded internal coordinates. It always
// returns the best point seen, even on failure.
func solve(ctx context.Context, axis Axis, data []float64, model ModelFunc, ps ParameterSet, settings SolverSettings) (*solveResult, error) {
	settings = settings.withDefaults()
	p, err := newProblem(axis, data, model, ps)
	if err != nil {
		return nil, err
	}
	m, n := len(data), len(p.free)

	u := p.start()
	r := make([]float64, m)
	p.residuals(r, u)
	cost := sumSquares(r)

	res := &solveResult{}
	finish := func(success bool, msg string) (*solveResult, error) {
		vals, err := p.values(u)
		if err != nil {
			return nil, err
		}
		res.Success = success
		res.Message = msg
		res.Values = vals
		res.Residual = r
		res.ChiSquare = floats.Dot(r, r)
		res.Evals = p.nfev
		if success {
			res.Stderr = p.stderr(u, r, ps)
		}
		return res, nil
	}

	if n == 0 {
		return finish(!math.IsInf(cost, 1), "no free parameters")
	}
	if m < n {
		return finish(false, fmt.Sprintf("%d free parameters exceed %d samples", n, m))
	}
	if math.IsInf(cost, 1) {
		return finish(false, "model is not finite at the initial parameters")
	}

	jac := mat.NewDense(m, n, nil)
	settingsFD := &fd.JacobianSettings{Formula: fd.Central, Step: jacobianStep}
	lambda := initialLambda
	trial := make([]float64, n)
	rTrial := make([]float64, m)

	for res.Iterations = 0; res.Iterations < settings.MaxIterations; res.Iterations++ {
		if err := ctx.Err(); err != nil {
			return finish(false, fmt.Sprintf("solve interrupted: %v", err))
		}
		if cost == 0 {
			return finish(true, "exact fit")
		}

		fd.Jacobian(jac, p.residuals, u, settingsFD)
		if !finite(jac.RawMatrix().Data) {
			return finish(false, "jacobian is not finite")
		}

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))
		if mat.Norm(&grad, math.Inf(1)) <= settings.GTol {
			return finish(true, "gradient below tolerance")
		}

		maxDiag := 0.0
		for i := 0; i < n; i++ {
			maxDiag = math.Max(maxDiag, jtj.At(i, i))
		}
		floor := 1e-12 * math.Max(maxDiag, 1)

		for {
			if err := ctx.Err(); err != nil {
				return finish(false, fmt.Sprintf("solve interrupted: %v", err))
			}
			if lambda > maxLambda {
				return finish(true, "no further reduction possible")
			}

			damped := mat.NewSymDense(n, nil)
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				damped.SetSym(i, i, jtj.At(i, i)+lambda*(jtj.At(i, i)+floor))
			}
			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			var step mat.VecDense
			if err := chol.SolveVecTo(&step, &grad); err != nil {
				lambda *= 10
				continue
			}
			for i := range trial {
				trial[i] = u[i] - step.AtVec(i)
			}
			p.residuals(rTrial, trial)
			trialCost := sumSquares(rTrial)
			if trialCost >= cost {
				lambda *= 10
				continue
			}

			reduction := (cost - trialCost) / cost
			stepNorm := mat.Norm(&step, 2)
			uNorm := floats.Norm(u, 2)
			copy(u, trial)
			copy(r, rTrial)
			cost = trialCost
			lambda = math.Max(lambda/10, 1e-12)

			if reduction <= settings.FTol {
				res.Iterations++
				return finish(true, "relative reduction in the sum of squares below tolerance")
			}
			if stepNorm <= settings.XTol*(uNorm+settings.XTol) {
				res.Iterations++
				return finish(true, "relative step size below tolerance")
			}
			break
		}
	}
	return finish(false, fmt.Sprintf("maximum of %d iterations reached", settings.MaxIterations))
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// stderr estimates standard errors from s²(JᵀJ)⁻¹ in internal coordinates,
// mapped to every varying or derived parameter by linear propagation.
// It returns nil when the normal matrix is singular.
func (p *problem) stderr(u, r []float64, ps ParameterSet) map[string]float64 {
	m, n := len(r), len(u)
	if m <= n || n == 0 {
		return nil
	}
	jac := mat.NewDense(m, n, nil)
	fd.Jacobian(jac, p.residuals, u, &fd.JacobianSettings{Formula: fd.Central, Step: jacobianStep})
	if !finite(jac.RawMatrix().Data) {
		return nil
	}
	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())
	var chol mat.Cholesky
	if !chol.Factorize(&jtj) {
		return nil
	}
	if c := chol.Cond(); math.IsInf(c, 1) || c > 1e15 {
		return nil
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil
	}
	cov.ScaleSym(floats.Dot(r, r)/float64(m-n), &cov)

	out := make(map[string]float64, ps.Len())
	settings := &fd.Settings{Formula: fd.Central, Step: jacobianStep}
	grad := make([]float64, n)
	for _, param := range ps.List() {
		if !param.Free() && param.Expr == "" {
			continue
		}
		name := param.Name
		fd.Gradient(grad, func(x []float64) float64 {
			vals, err := p.values(x)
			if err != nil {
				return math.NaN()
			}
			return vals[name]
		}, u, settings)
		g := mat.NewVecDense(n, grad)
		variance := mat.Inner(g, &cov, g)
		if math.IsNaN(variance) || variance < 0 {
			continue
		}
		out[name] = math.Sqrt(variance)
	}
	return out
}
