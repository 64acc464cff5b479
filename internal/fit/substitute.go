package fit

import (
	"math"

	"github.com/banshee-data/pulsefit/internal/monitoring"
)

// Override updates one parameter during merging. Nil fields leave the base
// value alone; Vary is always applied.
type Override struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Expr  *string  `json:"expr,omitempty"`
	Vary  bool     `json:"vary"`
}

// Float64 returns a pointer to v, for Override literals.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to s, for Override literals.
func String(s string) *string { return &s }

// FixAt returns an override that pins name to v.
func FixAt(name string, v float64) Override {
	return Override{Name: name, Value: Float64(v), Vary: false}
}

// relTol is the relative tolerance used when comparing a value against a bound.
const relTol = 1e-9

// closeRel reports whether a and b agree to relTol.
func closeRel(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= relTol*scale
}

// outOfBounds reports whether v lies beyond a bound by more than relTol.
func outOfBounds(v, lo, hi float64) bool {
	return (v < lo && !closeRel(v, lo)) || (v > hi && !closeRel(v, hi))
}

// Substitute merges overrides into a copy of base. For a name in base:
//
//  1. Vary is copied unconditionally.
//  2. Min and Max are overwritten when set.
//  3. Expr is overwritten when set.
//  4. Value is overwritten when set, after the bounds.
//  5. If the value now violates a bound, the pre-override value is restored,
//     then clamped into [Min, Max] if still out of range.
//
// Names only in overrides are appended. A merge that leaves Min > Max is
// logged and repaired by moving the bound the override did not set onto the
// one it did. Substitute(base, nil) is a copy equal to base.
func Substitute(base ParameterSet, overrides []Override, log monitoring.Logger) ParameterSet {
	log = monitoring.OrNop(log)
	out := base.Clone()

	for _, ov := range overrides {
		p, exists := out.Get(ov.Name)
		if !exists {
			p = Parameter{Name: ov.Name, Min: math.Inf(-1), Max: math.Inf(1)}
		}
		before := p.Value

		p.Vary = ov.Vary
		if ov.Min != nil {
			p.Min = *ov.Min
		}
		if ov.Max != nil {
			p.Max = *ov.Max
		}
		if ov.Expr != nil {
			p.Expr = *ov.Expr
		}
		if ov.Value != nil {
			p.Value = *ov.Value
		}

		if p.Min > p.Max {
			log.Opsf("substitute %q: min %g > max %g", p.Name, p.Min, p.Max)
			switch {
			case ov.Min != nil && ov.Max == nil:
				p.Max = p.Min
			case ov.Max != nil && ov.Min == nil:
				p.Min = p.Max
			default:
				p.Min, p.Max = p.Max, p.Min
			}
		}

		if outOfBounds(p.Value, p.Min, p.Max) {
			log.Diagf("substitute %q: value %g outside [%g, %g], restoring %g", p.Name, p.Value, p.Min, p.Max, before)
			if exists {
				p.Value = before
			}
			if outOfBounds(p.Value, p.Min, p.Max) {
				p.Value = math.Min(math.Max(p.Value, p.Min), p.Max)
			}
		}

		out.Add(p)
	}
	return out
}
