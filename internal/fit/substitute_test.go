package fit

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

func bufferedLogger() (ops, diag *bytes.Buffer, log monitoring.Logger) {
	ops, diag = &bytes.Buffer{}, &bytes.Buffer{}
	return ops, diag, monitoring.NewStreamLogger("", ops, diag, nil)
}

func TestSubstitute_NoOverridesIsACopy(t *testing.T) {
	t.Parallel()

	base := NewParameterSet(
		NewParameter("amplitude", 2).Bounded(0, 10),
		NewParameter("fwhm", 4).Derived("2*amplitude"),
	)
	got := Substitute(base, nil, nil)
	if diff := cmp.Diff(base, got); diff != "" {
		t.Fatalf("Substitute(base, nil) mismatch (-want +got):\n%s", diff)
	}

	got.SetValue("amplitude", 7)
	assert.Equal(t, 2.0, base.Value("amplitude"))
}

func TestSubstitute_Rules(t *testing.T) {
	t.Parallel()

	base := func() ParameterSet {
		return NewParameterSet(
			NewParameter("a", 2).Bounded(0, 5),
			NewParameter("b", 10),
		)
	}

	tests := []struct {
		name     string
		override Override
		want     Parameter
	}{
		{
			name:     "vary is copied",
			override: Override{Name: "a"},
			want:     Parameter{Name: "a", Value: 2, Min: 0, Max: 5, Vary: false},
		},
		{
			name:     "bounds then value",
			override: Override{Name: "b", Min: Float64(2), Max: Float64(4), Value: Float64(3), Vary: true},
			want:     Parameter{Name: "b", Value: 3, Min: 2, Max: 4, Vary: true},
		},
		{
			name:     "expression",
			override: Override{Name: "b", Expr: String("2*a"), Vary: true},
			want:     Parameter{Name: "b", Value: 10, Min: math.Inf(-1), Max: math.Inf(1), Vary: true, Expr: "2*a"},
		},
		{
			name:     "out of bounds value restores the original",
			override: Override{Name: "a", Value: Float64(7), Vary: true},
			want:     Parameter{Name: "a", Value: 2, Min: 0, Max: 5, Vary: true},
		},
		{
			name:     "restored value still out of bounds is clamped",
			override: Override{Name: "b", Max: Float64(4), Vary: true},
			want:     Parameter{Name: "b", Value: 4, Min: math.Inf(-1), Max: 4, Vary: true},
		},
		{
			name:     "bound within relative tolerance",
			override: Override{Name: "a", Value: Float64(5 + 1e-12), Vary: true},
			want:     Parameter{Name: "a", Value: 5 + 1e-12, Min: 0, Max: 5, Vary: true},
		},
		{
			name:     "fix at",
			override: FixAt("a", 1),
			want:     Parameter{Name: "a", Value: 1, Min: 0, Max: 5, Vary: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Substitute(base(), []Override{tt.override}, nil)
			p, ok := got.Get(tt.override.Name)
			require.True(t, ok)
			if diff := cmp.Diff(tt.want, p); diff != "" {
				t.Errorf("parameter mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, []string{"a", "b"}, got.Names())
		})
	}
}

func TestSubstitute_NewNameIsAppended(t *testing.T) {
	t.Parallel()

	base := NewParameterSet(NewParameter("a", 1))
	got := Substitute(base, []Override{{Name: "extra", Value: Float64(3), Vary: true}}, nil)

	assert.Equal(t, []string{"a", "extra"}, got.Names())
	p, _ := got.Get("extra")
	assert.Equal(t, 3.0, p.Value)
	assert.True(t, math.IsInf(p.Min, -1))
	assert.True(t, math.IsInf(p.Max, 1))
	assert.False(t, base.Has("extra"))
}

func TestSubstitute_RestoreIsLogged(t *testing.T) {
	t.Parallel()

	_, diag, log := bufferedLogger()
	base := NewParameterSet(NewParameter("a", 2).Bounded(0, 5))
	Substitute(base, []Override{{Name: "a", Value: Float64(7), Vary: true}}, log)

	assert.Contains(t, diag.String(), `substitute "a": value 7 outside [0, 5], restoring 2`)
}

func TestSubstitute_InvertedBoundsAreRepaired(t *testing.T) {
	t.Parallel()

	ops, _, log := bufferedLogger()
	base := NewParameterSet(NewParameter("a", 3).Bounded(0, 5))
	got := Substitute(base, []Override{{Name: "a", Min: Float64(10), Vary: true}}, log)

	p, _ := got.Get("a")
	assert.Equal(t, 10.0, p.Min)
	assert.Equal(t, 10.0, p.Max)
	assert.Equal(t, 10.0, p.Value)
	assert.Contains(t, ops.String(), "min 10 > max 5")
}

func TestSubstitute_BothBoundsInvertedAreSwapped(t *testing.T) {
	t.Parallel()

	base := NewParameterSet(NewParameter("a", 3))
	got := Substitute(base, []Override{{Name: "a", Min: Float64(8), Max: Float64(2), Vary: true}}, nil)

	p, _ := got.Get("a")
	assert.Equal(t, 2.0, p.Min)
	assert.Equal(t, 8.0, p.Max)
	assert.Equal(t, 3.0, p.Value)
}

func TestSubstitute_LaterOverridesSeeEarlierOnes(t *testing.T) {
	t.Parallel()

	base := NewParameterSet(NewParameter("a", 3))
	got := Substitute(base, []Override{
		{Name: "a", Max: Float64(4), Vary: true},
		{Name: "a", Value: Float64(6), Vary: true},
	}, nil)

	p, _ := got.Get("a")
	assert.Equal(t, 3.0, p.Value)
	assert.Equal(t, 4.0, p.Max)
}
