package fit

import (
	"encoding/json"
	"math"
)

// Parameter is one named model parameter. Unbounded sides are ±Inf.
//
// A parameter is free in the solve when Vary is set and Expr is empty.
// A parameter with Expr is derived from the others on every evaluation.
type Parameter struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
	Vary  bool
	Expr  string
}

// NewParameter returns a varying, unbounded parameter.
func NewParameter(name string, value float64) Parameter {
	return Parameter{Name: name, Value: value, Min: math.Inf(-1), Max: math.Inf(1), Vary: true}
}

// Bounded returns p with the given bounds.
func (p Parameter) Bounded(lo, hi float64) Parameter {
	p.Min, p.Max = lo, hi
	return p
}

// Derived returns p computed from expr.
func (p Parameter) Derived(expr string) Parameter {
	p.Expr = expr
	return p
}

// Fixed returns p held constant in the solve.
func (p Parameter) Fixed() Parameter {
	p.Vary = false
	return p
}

// Free reports whether the solver adjusts p.
func (p Parameter) Free() bool { return p.Vary && p.Expr == "" }

// InBounds reports whether Min <= Value <= Max.
func (p Parameter) InBounds() bool { return p.Value >= p.Min && p.Value <= p.Max }

type parameterJSON struct {
	Name  string   `json:"name"`
	Value float64  `json:"value"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Vary  bool     `json:"vary"`
	Expr  string   `json:"expr,omitempty"`
}

// MarshalJSON omits infinite bounds, which JSON cannot represent.
func (p Parameter) MarshalJSON() ([]byte, error) {
	out := parameterJSON{Name: p.Name, Value: p.Value, Vary: p.Vary, Expr: p.Expr}
	if !math.IsInf(p.Min, 0) {
		out.Min = &p.Min
	}
	if !math.IsInf(p.Max, 0) {
		out.Max = &p.Max
	}
	return json.Marshal(out)
}

// UnmarshalJSON treats missing bounds as unbounded.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var in parameterJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = Parameter{Name: in.Name, Value: in.Value, Min: math.Inf(-1), Max: math.Inf(1), Vary: in.Vary, Expr: in.Expr}
	if in.Min != nil {
		p.Min = *in.Min
	}
	if in.Max != nil {
		p.Max = *in.Max
	}
	return nil
}

// Values maps parameter names to numeric values.
type Values map[string]float64

// ParameterSet is an ordered collection of parameters. Insertion order is
// the evaluation order of Expr parameters. The zero value is empty and
// ready to use. Copies share storage; use Clone for an independent copy.
type ParameterSet struct {
	params []Parameter
	index  map[string]int
}

// NewParameterSet builds a set from params in order.
func NewParameterSet(params ...Parameter) ParameterSet {
	var s ParameterSet
	for _, p := range params {
		s.Add(p)
	}
	return s
}

// Add appends p, or replaces the parameter of the same name in place.
func (s *ParameterSet) Add(p Parameter) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[p.Name]; ok {
		s.params[i] = p
		return
	}
	s.index[p.Name] = len(s.params)
	s.params = append(s.params, p)
}

// Set replaces an existing parameter. It reports false if name is unknown.
func (s *ParameterSet) Set(p Parameter) bool {
	if !s.Has(p.Name) {
		return false
	}
	s.Add(p)
	return true
}

// SetValue updates the value of an existing parameter.
func (s *ParameterSet) SetValue(name string, v float64) bool {
	i, ok := s.index[name]
	if !ok {
		return false
	}
	s.params[i].Value = v
	return true
}

// Get returns the named parameter.
func (s ParameterSet) Get(name string) (Parameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return Parameter{}, false
	}
	return s.params[i], true
}

// Value returns the value of name, or NaN when absent.
func (s ParameterSet) Value(name string) float64 {
	p, ok := s.Get(name)
	if !ok {
		return math.NaN()
	}
	return p.Value
}

// Has reports whether name is present.
func (s ParameterSet) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Len returns the number of parameters.
func (s ParameterSet) Len() int { return len(s.params) }

// Names returns parameter names in insertion order.
func (s ParameterSet) Names() []string {
	out := make([]string, len(s.params))
	for i, p := range s.params {
		out[i] = p.Name
	}
	return out
}

// List returns a copy of the parameters in insertion order.
func (s ParameterSet) List() []Parameter {
	return append([]Parameter(nil), s.params...)
}

// FreeNames returns the names of the parameters the solver adjusts.
func (s ParameterSet) FreeNames() []string {
	var out []string
	for _, p := range s.params {
		if p.Free() {
			out = append(out, p.Name)
		}
	}
	return out
}

// Values returns the current value of every parameter.
func (s ParameterSet) Values() Values {
	out := make(Values, len(s.params))
	for _, p := range s.params {
		out[p.Name] = p.Value
	}
	return out
}

// Clone returns a deep copy.
func (s ParameterSet) Clone() ParameterSet {
	out := ParameterSet{
		params: append([]Parameter(nil), s.params...),
		index:  make(map[string]int, len(s.index)),
	}
	for k, v := range s.index {
		out.index[k] = v
	}
	return out
}

// Equal reports whether both sets hold the same parameters in the same order.
// NaN values compare equal to NaN.
func (s ParameterSet) Equal(o ParameterSet) bool {
	if len(s.params) != len(o.params) {
		return false
	}
	for i, p := range s.params {
		q := o.params[i]
		if p.Name != q.Name || p.Vary != q.Vary || p.Expr != q.Expr ||
			!sameFloat(p.Value, q.Value) || !sameFloat(p.Min, q.Min) || !sameFloat(p.Max, q.Max) {
			return false
		}
	}
	return true
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// MarshalJSON encodes the set as an ordered array.
func (s ParameterSet) MarshalJSON() ([]byte, error) {
	if s.params == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.params)
}

// UnmarshalJSON decodes an ordered array of parameters.
func (s *ParameterSet) UnmarshalJSON(data []byte) error {
	var params []Parameter
	if err := json.Unmarshal(data, &params); err != nil {
		return err
	}
	*s = NewParameterSet(params...)
	return nil
}
