package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the immutable known-engine mapping built at startup and
// passed by reference into the orchestrator and API layers.
type Registry struct {
	engines map[EngineName]Engine
	names   []EngineName
}

// NewRegistry builds a Registry from the provided engines.
func NewRegistry(engines ...Engine) *Registry {
	m := make(map[EngineName]Engine, len(engines))
	names := make([]EngineName, 0, len(engines))
	for _, e := range engines {
		if e == nil {
			continue
		}
		if _, exists := m[e.Name()]; exists {
			continue
		}
		m[e.Name()] = e
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return &Registry{engines: m, names: names}
}

// Resolve returns the engine registered under name.
func (r *Registry) Resolve(name EngineName) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

// Names lists registered engine names in sorted order.
func (r *Registry) Names() []EngineName {
	out := make([]EngineName, len(r.names))
	copy(out, r.names)
	return out
}

// Len reports the number of registered engines.
func (r *Registry) Len() int {
	return len(r.engines)
}

// ValidateEngines checks that requested is a non-empty subset of the
// registry and returns the deduplicated set in request order.
func (r *Registry) ValidateEngines(requested []EngineName) ([]EngineName, error) {
	if len(requested) == 0 {
		return nil, NewValidationError("engines", "at least one engine required")
	}
	seen := make(map[EngineName]struct{}, len(requested))
	out := make([]EngineName, 0, len(requested))
	var unknown []string
	for _, name := range requested {
		name = EngineName(strings.ToLower(strings.TrimSpace(string(name))))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := r.engines[name]; !ok {
			unknown = append(unknown, string(name))
			continue
		}
		out = append(out, name)
	}
	if len(unknown) > 0 {
		return nil, NewValidationError("engines", fmt.Sprintf("unknown engines: %s", strings.Join(unknown, ", ")))
	}
	if len(out) == 0 {
		return nil, NewValidationError("engines", "at least one engine required")
	}
	return out, nil
}
