package fit

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprFuncs are the math helpers available in parameter expressions in
// addition to the expr builtins (abs, min, max, ...).
var exprFuncs = []expr.Option{
	unaryFunc("sqrt", math.Sqrt),
	unaryFunc("exp", math.Exp),
	unaryFunc("log", math.Log),
	unaryFunc("sin", math.Sin),
	unaryFunc("cos", math.Cos),
}

func unaryFunc(name string, f func(float64) float64) expr.Option {
	return expr.Function(name, func(params ...any) (any, error) {
		v, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		return f(v), nil
	}, new(func(float64) float64))
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("expression result %v (%T) is not numeric", v, v)
	}
}

// exprParam is one compiled derived parameter.
type exprParam struct {
	name    string
	program *vm.Program
}

// resolver evaluates the Expr parameters of a set in insertion order.
type resolver struct {
	exprs []exprParam
	env   map[string]any
}

// newResolver compiles every Expr in ps against the names of ps.
func newResolver(ps ParameterSet) (*resolver, error) {
	env := make(map[string]any, ps.Len()+1)
	for _, name := range ps.Names() {
		env[name] = 0.0
	}
	if _, ok := env["pi"]; !ok {
		env["pi"] = math.Pi
	}

	opts := append([]expr.Option{expr.Env(env), expr.AsFloat64()}, exprFuncs...)
	r := &resolver{env: env}
	for _, p := range ps.List() {
		if p.Expr == "" {
			continue
		}
		prog, err := expr.Compile(p.Expr, opts...)
		if err != nil {
			return nil, fmt.Errorf("parameter %q expression %q: %w: %v", p.Name, p.Expr, ErrInvalidExpression, err)
		}
		r.exprs = append(r.exprs, exprParam{name: p.Name, program: prog})
	}
	return r, nil
}

// resolve overwrites the derived entries of vals. Each expression sees the
// results of the ones declared before it.
func (r *resolver) resolve(vals Values) error {
	if len(r.exprs) == 0 {
		return nil
	}
	for k, v := range vals {
		r.env[k] = v
	}
	for _, e := range r.exprs {
		out, err := expr.Run(e.program, r.env)
		if err != nil {
			return fmt.Errorf("evaluate %q: %w", e.name, err)
		}
		v, err := toFloat(out)
		if err != nil {
			return fmt.Errorf("evaluate %q: %w", e.name, err)
		}
		vals[e.name] = v
		r.env[e.name] = v
	}
	return nil
}

// ValidateExpressions compiles every Expr in ps and reports the first failure.
func ValidateExpressions(ps ParameterSet) error {
	_, err := newResolver(ps)
	return err
}

// ResolveValues returns the values of ps with every Expr parameter
// recomputed from the others.
func ResolveValues(ps ParameterSet) (Values, error) {
	r, err := newResolver(ps)
	if err != nil {
		return nil, err
	}
	vals := ps.Values()
	if err := r.resolve(vals); err != nil {
		return nil, err
	}
	return vals, nil
}
