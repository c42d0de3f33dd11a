package tools

import (
	"sync"

	"github.com/crabmiau/loaf/internal/loaferr"
	"golang.org/x/sync/singleflight"
)

// Registry is a name-keyed map of tool definitions. Registration is
// idempotent: registering the same name twice replaces the previous
// definition (spec.md §4.4). singleflight collapses concurrent
// registrations of the same name during custom-tool hot-reload (spec.md §6
// "Custom-tool discovery") so a racing pair of loads converges on one
// definition rather than a torn read.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	group singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds or replaces a definition. It rejects malformed names and a
// nil Run function up front rather than deferring the failure to the first
// call.
func (r *Registry) Register(def Definition) error {
	if !ValidName(def.Name) {
		return loaferr.New(loaferr.InvalidInput, "invalid tool name: "+def.Name)
	}
	if def.Run == nil {
		return loaferr.New(loaferr.InvalidInput, "tool "+def.Name+" has no run function")
	}
	_, _, _ = r.group.Do(def.Name, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.defs[def.Name] = def
		return nil, nil
	})
	return nil
}

// Unregister removes a definition, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, name)
}

// Lookup returns a tool's definition by name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// List returns every registered definition, in no particular order, for
// serving a tools/list style response (Definition.MCPTool gives the wire shape).
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}
