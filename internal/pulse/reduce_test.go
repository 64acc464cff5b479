package pulse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Antisymmetric(t *testing.T) {
	t.Parallel()

	r := NewReducer(nil)
	pairs := []struct {
		a, b []int
	}{
		{[]int{5, 5}, []int{1}},
		{[]int{0}, []int{7, 1}},
		{[]int{100, 20, 3}, []int{40, 40}},
		{[]int{-3, 10}, []int{2}},
	}
	for _, p := range pairs {
		assert.InDelta(t, r.Normalize(p.a, p.b), -r.Normalize(p.b, p.a), 1e-15, "a=%v b=%v", p.a, p.b)
	}
	assert.InDelta(t, 0.6, r.Normalize([]int{80}, []int{20}), 1e-15)
}

func TestNormalize_ZeroTotal(t *testing.T) {
	t.Parallel()

	ops, log := opsLogger()
	r := NewReducer(log)

	assert.Equal(t, 0.0, r.Normalize([]int{0, 0}, []int{0}))
	assert.Equal(t, 0.0, r.NormalizeSums(5, -5))
	assert.Contains(t, ops.String(), "zero total counts")
}

func TestNormalizedSignal_OddCount(t *testing.T) {
	t.Parallel()

	_, err := NewReducer(nil).NormalizedSignal(PulseSet{{1}, {2}, {3}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOddPulseCount))
}

func TestSignal(t *testing.T) {
	t.Parallel()

	got := NewReducer(nil).Signal(PulseSet{{1, 2, 3}, {0, 0, 4}})
	assert.Equal(t, []float64{6, 4}, got)
	assert.Empty(t, NewReducer(nil).Signal(nil))
}
