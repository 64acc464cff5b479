package fit

import (
	"sort"
	"sync"
)

// Registry holds fit models by name. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*ModelDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*ModelDefinition)}
}

// Register adds a model under name built from a model function and its
// estimator. An existing model of the same name is replaced.
func (r *Registry) Register(name string, model ModelFunc, estimate EstimatorFunc) {
	r.RegisterDefinition(&ModelDefinition{Name: name, Model: model, Estimate: estimate})
}

// RegisterDefinition adds def to the registry, replacing any model of the
// same name.
func (r *Registry) RegisterDefinition(def *ModelDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[def.Name] = def
}

// Get retrieves a model by name.
func (r *Registry) Get(name string) (*ModelDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.models[name]
	return def, ok
}

// List returns the registered model names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns summary information for every model, sorted by name.
func (r *Registry) Describe() []ModelInfo {
	names := r.List()
	infos := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		if def, ok := r.Get(name); ok {
			infos = append(infos, def.info())
		}
	}
	return infos
}

// DefaultRegistry returns a registry pre-loaded with the built-in models.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterDefinition(gaussianDefinition())
	reg.RegisterDefinition(gaussian2DDefinition())
	reg.RegisterDefinition(doubleGaussianDefinition())
	reg.RegisterDefinition(lorentzianDefinition("lorentzian_dip", false))
	reg.RegisterDefinition(lorentzianDefinition("lorentzian_peak", true))
	reg.RegisterDefinition(doubleLorentzianDefinition("double_lorentzian_dip", false))
	reg.RegisterDefinition(doubleLorentzianDefinition("double_lorentzian_peak", true))
	reg.RegisterDefinition(n14Definition())
	reg.RegisterDefinition(n15Definition())
	reg.RegisterDefinition(sineDecayDefinition())
	reg.RegisterDefinition(exponentialDecayDefinition())
	reg.RegisterDefinition(poissonDefinition())
	reg.RegisterDefinition(doublePoissonDefinition())
	return reg
}
