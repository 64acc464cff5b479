package fit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// DefaultTimeout bounds each solver attempt.
const DefaultTimeout = 10 * time.Second

// State is a stage of a single fit call.
type State int

const (
	StateEstimating State = iota
	StateParameterMerging
	StateSolving
	StateConverged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEstimating:
		return "estimating"
	case StateParameterMerging:
		return "parameter_merging"
	case StateSolving:
		return "solving"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateEstimating; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown fit state %q", text)
}

// EngineConfig configures an Engine. Zero fields take defaults.
type EngineConfig struct {
	Registry *Registry
	Logger   monitoring.Logger
	Metrics  *Metrics
	// Timeout bounds each of the two solver attempts.
	Timeout time.Duration
	Solver  SolverSettings
}

// Engine runs fits against the models of a registry. It keeps no state
// between calls and is safe for concurrent use.
type Engine struct {
	registry *Registry
	log      monitoring.Logger
	metrics  *Metrics
	timeout  time.Duration
	solver   SolverSettings
}

// NewEngine creates an engine. A nil registry uses DefaultRegistry.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		registry: cfg.Registry,
		log:      monitoring.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
		timeout:  cfg.Timeout,
		solver:   cfg.Solver.withDefaults(),
	}
	if e.registry == nil {
		e.registry = DefaultRegistry()
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	return e
}

// Registry returns the registry the engine resolves models from.
func (e *Engine) Registry() *Registry { return e.registry }

// Result is the outcome of a fit.
type Result struct {
	Model   string `json:"model"`
	Success bool   `json:"success"`
	State   State  `json:"state"`
	Message string `json:"message"`

	Params        ParameterSet `json:"params"`
	InitialParams ParameterSet `json:"initial_params"`
	// Stderr holds standard errors of the varying and derived parameters.
	// It is nil when the covariance could not be estimated.
	Stderr map[string]float64 `json:"stderr,omitempty"`

	Residual         []float64 `json:"residual"`
	Curve            []float64 `json:"curve"`
	ChiSquare        float64   `json:"chi_square"`
	ReducedChiSquare float64   `json:"reduced_chi_square"`
	Iterations       int       `json:"iterations"`
}

func (e *Engine) lookup(model string) (*ModelDefinition, error) {
	def, ok := e.registry.Get(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return def, nil
}

// Estimate runs the estimator of model on data. When the estimator fails
// the model defaults are returned and the failure is logged. The returned
// set is a private copy.
func (e *Engine) Estimate(model string, axis Axis, data []float64) (ParameterSet, error) {
	def, err := e.lookup(model)
	if err != nil {
		return ParameterSet{}, err
	}
	if err := axis.check(data); err != nil {
		return ParameterSet{}, err
	}
	return e.estimate(def, axis, data)
}

func (e *Engine) estimate(def *ModelDefinition, axis Axis, data []float64) (ParameterSet, error) {
	ps, err := def.Estimate(axis, data, e.log)
	if err == nil {
		ps = ps.Clone()
		if vals, err := ResolveValues(ps); err == nil {
			for name, v := range vals {
				ps.SetValue(name, v)
			}
		}
		return ps, nil
	}
	if def.Defaults == nil {
		return ParameterSet{}, fmt.Errorf("estimate %q: %w", def.Name, err)
	}
	e.log.Opsf("fit %s: estimator failed, using defaults: %v", def.Name, err)
	return def.Defaults(), nil
}

// Evaluate computes model on axis for ps, resolving expressions first.
func (e *Engine) Evaluate(model string, axis Axis, ps ParameterSet) ([]float64, error) {
	def, err := e.lookup(model)
	if err != nil {
		return nil, err
	}
	if err := axis.check(nil); err != nil {
		return nil, err
	}
	vals, err := ResolveValues(ps)
	if err != nil {
		return nil, err
	}
	return def.Model(axis, vals), nil
}

// Fit estimates, merges overrides into and solves for the parameters of
// model on data. A failed solve is retried once with the same inputs; if
// that also fails the error is a *FitDidNotConverge and the Result still
// carries the best curve found.
func (e *Engine) Fit(ctx context.Context, model string, axis Axis, data []float64, overrides []Override) (*Result, error) {
	def, err := e.lookup(model)
	if err != nil {
		return nil, err
	}
	if err := axis.check(data); err != nil {
		return nil, err
	}
	started := time.Now()

	state := StateEstimating
	e.log.Tracef("fit %s: %s", def.Name, state)
	base, err := e.estimate(def, axis, data)
	if err != nil {
		return nil, err
	}

	state = StateParameterMerging
	e.log.Tracef("fit %s: %s", def.Name, state)
	params := Substitute(base, overrides, e.log)
	if err := ValidateExpressions(params); err != nil {
		return nil, err
	}

	state = StateSolving
	e.log.Tracef("fit %s: %s", def.Name, state)
	var sr *solveResult
	for attempt := 1; attempt <= 2; attempt++ {
		sr, err = e.attempt(ctx, def, axis, data, params)
		if err != nil {
			return nil, err
		}
		if sr.Success {
			break
		}
		e.log.Diagf("fit %s: attempt %d failed: %s", def.Name, attempt, sr.Message)
		if attempt == 1 {
			if ctx.Err() != nil {
				break
			}
			e.metrics.retried(def.Name)
		}
	}

	res := e.result(def, axis, params, sr)
	e.metrics.observe(def.Name, res.State, time.Since(started))
	if !res.Success {
		e.log.Opsf("fit %s did not converge: %s", def.Name, sr.Message)
		return res, &FitDidNotConverge{Model: def.Name, Message: sr.Message, Params: res.Params.Clone()}
	}
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, def *ModelDefinition, axis Axis, data []float64, params ParameterSet) (*solveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return solve(ctx, axis, data, def.Model, params, e.solver)
}

func (e *Engine) result(def *ModelDefinition, axis Axis, params ParameterSet, sr *solveResult) *Result {
	fitted := params.Clone()
	for name, v := range sr.Values {
		fitted.SetValue(name, v)
	}
	stderr := sr.Stderr
	if def.Canonicalize != nil {
		def.Canonicalize(&fitted, stderr)
	}

	res := &Result{
		Model:         def.Name,
		Success:       sr.Success,
		State:         StateConverged,
		Message:       sr.Message,
		Params:        fitted,
		InitialParams: params.Clone(),
		Stderr:        stderr,
		Residual:      sr.Residual,
		Curve:         def.Model(axis, fitted.Values()),
		ChiSquare:     sr.ChiSquare,
		Iterations:    sr.Iterations,
	}
	if !sr.Success {
		res.State = StateFailed
		res.Stderr = nil
	}
	if dof := len(sr.Residual) - len(params.FreeNames()); dof > 0 {
		res.ReducedChiSquare = sr.ChiSquare / float64(dof)
	}
	return res
}

// IsNotConverged reports whether err is a *FitDidNotConverge.
func IsNotConverged(err error) bool {
	var nc *FitDidNotConverge
	return errors.As(err, &nc)
}
