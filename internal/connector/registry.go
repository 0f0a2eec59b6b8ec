package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/overblick/agentcore/pkg/contracts"
)

// Constructor builds one connector instance from a Context. Registered
// constructors are the only way a connector ever comes into existence —
// there is no path from configuration data to code execution.
type Constructor func(ctx *Context) (contracts.Connector, error)

// Registry is a static whitelist mapping short names to constructors,
// with an alias table honoring legacy names.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	aliases      map[string]string
	loaded       map[string]contracts.Connector
}

// NewRegistry creates an empty registry. Real deployments call Register
// once per known connector kind at process startup; this core ships no
// concrete connector implementations (they are explicitly out of scope),
// only the registry and contract they must satisfy.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		aliases:      make(map[string]string),
		loaded:       make(map[string]contracts.Connector),
	}
}

// Register adds (or replaces) a named constructor. For testing and for
// extending the whitelist at build time — never for runtime/dynamic use.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// RegisterAlias honors an old→new connector name.
func (r *Registry) RegisterAlias(oldName, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[oldName] = newName
}

// Load is the only construction entry point. Unknown names fail with a
// precise message listing the available ones.
func (r *Registry) Load(name string, ctx *Context) (contracts.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := name
	if alias, ok := r.aliases[name]; ok {
		resolved = alias
	}

	ctor, ok := r.constructors[resolved]
	if !ok {
		return nil, fmt.Errorf("unknown connector %q; available: %s", name, strings.Join(r.availableLocked(), ", "))
	}

	instance, err := ctor(ctx)
	if err != nil {
		return nil, fmt.Errorf("constructing connector %q: %w", resolved, err)
	}
	r.loaded[resolved] = instance
	return instance, nil
}

// Get returns a previously loaded connector by name.
func (r *Registry) Get(name string) (contracts.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.loaded[name]
	return c, ok
}

// AllLoaded returns every connector instantiated so far. Map order is
// arbitrary; callers needing ordered teardown should track load order
// themselves (the orchestrator does).
func (r *Registry) AllLoaded() map[string]contracts.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]contracts.Connector, len(r.loaded))
	for k, v := range r.loaded {
		out[k] = v
	}
	return out
}

// AvailableConnectors lists every registered (non-alias) name, sorted.
func (r *Registry) AvailableConnectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked()
}

func (r *Registry) availableLocked() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
