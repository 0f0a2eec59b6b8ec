// Package capability provides a small named-constructor registry for
// shared in-process services (Capability, in the GLOSSARY's terms) that
// connectors consume through the Context's capability map — distinct from
// the connector registry because capabilities have no scheduler-driven
// tick() lifecycle of their own.
package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
)

// Constructor builds one capability instance given the owning identity.
type Constructor func(id models.Identity) (contracts.Capability, error)

// Registry is the static whitelist of capability constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry, then callers register the known
// capability kinds (dream_system, therapy_system, safe_learning,
// emotional_state, analyzer, composer, conversation_tracker, summarizer —
// per the identity's declared capability set) before Build is called.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds (or replaces) a named constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Build instantiates every capability named in id.Capabilities, returning
// a read-only map keyed by name. An unknown name fails loudly, listing
// what is available.
func (r *Registry) Build(id models.Identity) (map[string]contracts.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]contracts.Capability, len(id.Capabilities))
	for _, name := range id.Capabilities {
		ctor, ok := r.constructors[name]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q; available: %v", name, r.availableLocked())
		}
		instance, err := ctor(id)
		if err != nil {
			return nil, fmt.Errorf("constructing capability %q: %w", name, err)
		}
		out[name] = instance
	}
	return out, nil
}

func (r *Registry) availableLocked() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
