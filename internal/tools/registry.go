package tools

import (
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

type entry struct {
	tool   Tool
	schema *jsonschema.Resolved
}

// Registry is the immutable name → tool table built once at startup.
type Registry struct {
	tools    []Tool
	byName   map[string]entry
	clearers map[string]string // modal type -> tool name
}

// NewRegistry indexes tools whose capability is enabled. A nil enabled set
// enables everything. Duplicate names and unresolvable schemas are errors.
func NewRegistry(all []Tool, enabled map[string]bool) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]entry, len(all)),
		clearers: make(map[string]string),
	}
	for _, t := range all {
		if enabled != nil && !enabled[t.Capability()] {
			continue
		}
		if _, dup := r.byName[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name())
		}
		schema := t.InputSchema()
		if schema == nil {
			schema = object(nil, nil)
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("tool %q: resolve input schema: %w", t.Name(), err)
		}
		r.byName[t.Name()] = entry{tool: t, schema: resolved}
		r.tools = append(r.tools, t)
		if typ := t.ClearsModalState(); typ != "" {
			if other, ok := r.clearers[typ]; ok {
				return nil, fmt.Errorf("tools %q and %q both clear modal state %q", other, t.Name(), typ)
			}
			r.clearers[typ] = t.Name()
		}
	}
	sort.SliceStable(r.tools, func(i, j int) bool { return r.tools[i].Name() < r.tools[j].Name() })
	return r, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.byName[name]
	return e.tool, ok
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// ClearerFor returns the name of the tool that clears modal state typ.
func (r *Registry) ClearerFor(typ string) (string, bool) {
	name, ok := r.clearers[typ]
	return name, ok
}

func (r *Registry) entry(name string) (entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}
