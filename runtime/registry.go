package runtime

import "github.com/lysine-go/lysine/value"

// Kwargs is the keyword-argument map passed to filters and functions.
type Kwargs map[string]value.Value

// Get returns a kwarg or the given fallback.
func (k Kwargs) Get(name string, fallback value.Value) value.Value {
	if v, ok := k[name]; ok {
		return v
	}
	return fallback
}

// Has reports whether a kwarg was supplied.
func (k Kwargs) Has(name string) bool {
	_, ok := k[name]
	return ok
}

// Filter transforms a value. Filters are pure: same inputs, same output.
type Filter func(val value.Value, kwargs Kwargs) (value.Value, error)

// Function produces a value from keyword arguments alone.
type Function func(kwargs Kwargs) (value.Value, error)

// Test checks a predicate against a subject. The subject is nil when the
// tested identifier is undefined; args are positional.
type Test func(val *value.Value, args []value.Value) (bool, error)

// Registry is the name-keyed table of filters, functions and tests the
// renderer dispatches to. It is built once during engine setup and then
// shared read-only between renders; never mutate it concurrently with
// rendering.
type Registry struct {
	filters   map[string]Filter
	functions map[string]Function
	tests     map[string]Test
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		filters:   make(map[string]Filter),
		functions: make(map[string]Function),
		tests:     make(map[string]Test),
	}
}

// RegisterFilter adds or replaces a filter.
func (r *Registry) RegisterFilter(name string, f Filter) {
	r.filters[name] = f
}

// RegisterFunction adds or replaces a function.
func (r *Registry) RegisterFunction(name string, f Function) {
	r.functions[name] = f
}

// RegisterTest adds or replaces a test.
func (r *Registry) RegisterTest(name string, t Test) {
	r.tests[name] = t
}

// Filter looks up a filter by name.
func (r *Registry) Filter(name string) (Filter, bool) {
	f, ok := r.filters[name]
	return f, ok
}

// Function looks up a function by name.
func (r *Registry) Function(name string) (Function, bool) {
	f, ok := r.functions[name]
	return f, ok
}

// Test looks up a test by name.
func (r *Registry) Test(name string) (Test, bool) {
	t, ok := r.tests[name]
	return t, ok
}

// Merge copies entries from other that are not already present.
func (r *Registry) Merge(other *Registry) {
	for name, f := range other.filters {
		if _, ok := r.filters[name]; !ok {
			r.filters[name] = f
		}
	}
	for name, f := range other.functions {
		if _, ok := r.functions[name]; !ok {
			r.functions[name] = f
		}
	}
	for name, t := range other.tests {
		if _, ok := r.tests[name]; !ok {
			r.tests[name] = t
		}
	}
}
