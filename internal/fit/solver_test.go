package fit

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulsefit/internal/testutil"
)

func TestBoundTransform_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		param Parameter
	}{
		{"double", NewParameter("p", 3).Bounded(0, 10)},
		{"lower", NewParameter("p", 7).Bounded(2, math.Inf(1))},
		{"upper", NewParameter("p", -1).Bounded(math.Inf(-1), 5)},
		{"free", NewParameter("p", 4.2)},
		{"free at zero", NewParameter("p", 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := newBoundTransform(tt.param)
			got := tr.external(tr.internal(tt.param.Value))
			assert.InDelta(t, tt.param.Value, got, 1e-9)
		})
	}
}

func TestBoundTransform_ExternalStaysInBounds(t *testing.T) {
	t.Parallel()

	params := []Parameter{
		NewParameter("p", 3).Bounded(0, 10),
		NewParameter("p", 7).Bounded(2, math.Inf(1)),
		NewParameter("p", -1).Bounded(math.Inf(-1), 5),
	}
	for _, p := range params {
		tr := newBoundTransform(p)
		for u := -100.0; u <= 100; u += 0.37 {
			x := tr.external(u)
			assert.GreaterOrEqual(t, x, p.Min)
			assert.LessOrEqual(t, x, p.Max)
		}
	}
}

func TestBoundTransform_ValueOnBoundCanLeave(t *testing.T) {
	t.Parallel()

	tr := newBoundTransform(NewParameter("theta", 0).Bounded(0, math.Pi))
	u := tr.internal(0)
	assert.InDelta(t, 0, tr.external(u), 1e-7)
	assert.Greater(t, tr.external(u+1e-3), tr.external(u))

	lo := newBoundTransform(NewParameter("offset", 0).Bounded(0, math.Inf(1)))
	u = lo.internal(0)
	assert.NotZero(t, u)
	assert.InDelta(t, 0, lo.external(u), 1e-7)
}

func lineModel(axis Axis, p Values) []float64 {
	out := make([]float64, axis.Len())
	for i, x := range axis.X {
		out[i] = p["slope"]*x + p["intercept"]
	}
	return out
}

func TestSolve_Line(t *testing.T) {
	t.Parallel()

	x := testutil.Linspace(0, 10, 50)
	data := testutil.Apply(x, func(x float64) float64 { return 3*x + 1 })
	ps := NewParameterSet(NewParameter("slope", 1), NewParameter("intercept", 0))

	res, err := solve(context.Background(), Axis{X: x}, data, lineModel, ps, SolverSettings{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.InDelta(t, 3, res.Values["slope"], 1e-8)
	assert.InDelta(t, 1, res.Values["intercept"], 1e-8)
	assert.Less(t, res.ChiSquare, 1e-12)
	assert.Positive(t, res.Evals)
}

func TestSolve_NoisyLineHasStderr(t *testing.T) {
	t.Parallel()

	rng := testutil.NewRand(7)
	x := testutil.Linspace(0, 10, 200)
	data := testutil.AddNoise(rng, testutil.Apply(x, func(x float64) float64 { return -2*x + 5 }), 0.1)
	ps := NewParameterSet(
		NewParameter("slope", 1),
		NewParameter("intercept", 0),
		NewParameter("double_slope", 0).Derived("2*slope"),
	)

	res, err := solve(context.Background(), Axis{X: x}, data, lineModel, ps, SolverSettings{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Stderr)

	assert.InDelta(t, -2, res.Values["slope"], 0.05)
	assert.InDelta(t, 2*res.Values["slope"], res.Values["double_slope"], 1e-12)
	assert.Positive(t, res.Stderr["slope"])
	assert.InDelta(t, 2*res.Stderr["slope"], res.Stderr["double_slope"], 1e-6*res.Stderr["slope"]+1e-12)
}

func TestSolve_FixedParameterIsHeld(t *testing.T) {
	t.Parallel()

	x := testutil.Linspace(0, 10, 20)
	data := testutil.Apply(x, func(x float64) float64 { return 3*x + 1 })
	ps := NewParameterSet(NewParameter("slope", 1), NewParameter("intercept", 4).Fixed())

	res, err := solve(context.Background(), Axis{X: x}, data, lineModel, ps, SolverSettings{})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, 4.0, res.Values["intercept"])
	_, ok := res.Stderr["intercept"]
	assert.False(t, ok)
}

func TestSolve_Degenerate(t *testing.T) {
	t.Parallel()

	t.Run("no free parameters", func(t *testing.T) {
		t.Parallel()
		ps := NewParameterSet(NewParameter("slope", 3).Fixed(), NewParameter("intercept", 1).Fixed())
		res, err := solve(context.Background(), Axis{X: []float64{0, 1}}, []float64{1, 4}, lineModel, ps, SolverSettings{})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "no free parameters", res.Message)
	})

	t.Run("more parameters than samples", func(t *testing.T) {
		t.Parallel()
		ps := NewParameterSet(NewParameter("slope", 3), NewParameter("intercept", 1))
		res, err := solve(context.Background(), Axis{X: []float64{0}}, []float64{1}, lineModel, ps, SolverSettings{})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "exceed")
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ps := NewParameterSet(NewParameter("slope", 3), NewParameter("intercept", 0))
		res, err := solve(ctx, Axis{X: []float64{0, 1, 2}}, []float64{1, 4, 7}, lineModel, ps, SolverSettings{})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "interrupted")
		assert.Equal(t, 3.0, res.Values["slope"])
	})

	t.Run("iteration cap", func(t *testing.T) {
		t.Parallel()
		x := testutil.Linspace(0, 10, 20)
		data := testutil.Apply(x, func(x float64) float64 { return math.Exp(-x/3) + 0.5 })
		expModel := func(axis Axis, p Values) []float64 {
			out := make([]float64, axis.Len())
			for i, x := range axis.X {
				out[i] = p["a"]*math.Exp(-x/p["tau"]) + p["c"]
			}
			return out
		}
		ps := NewParameterSet(NewParameter("a", 5), NewParameter("tau", 0.5), NewParameter("c", 0))
		res, err := solve(context.Background(), Axis{X: x}, data, expModel, ps, SolverSettings{MaxIterations: 1})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "maximum of 1 iterations")
		assert.Equal(t, 1, res.Iterations)
	})
}
