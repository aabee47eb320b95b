package registry

import (
	"fmt"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Registry is the total mapping from agent kind to processor. Routing code
// converts external names to domain.AgentKind first, so a lookup miss here
// means the kind is enabled nowhere, not that a string was misspelled.
type Registry struct {
	mu         sync.RWMutex
	processors map[domain.AgentKind]ports.Processor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		processors: make(map[domain.AgentKind]ports.Processor),
	}
}

// Register adds a processor under its own kind.
// If the kind is already registered, it is overwritten.
func (r *Registry) Register(p ports.Processor) error {
	kind := p.Kind()
	if !kind.IsProcessor() {
		return fmt.Errorf("%w: %q is not a processor kind", domain.ErrInvalidTarget, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[kind] = p
	return nil
}

// Get looks a processor up by kind.
func (r *Registry) Get(kind domain.AgentKind) (ports.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[kind]
	return p, ok
}

// Enabled reports whether a kind has a registered processor.
func (r *Registry) Enabled(kind domain.AgentKind) bool {
	_, ok := r.Get(kind)
	return ok
}

// Kinds returns the registered kinds in routing-priority order.
func (r *Registry) Kinds() []domain.AgentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AgentKind, 0, len(r.processors))
	for _, kind := range domain.ProcessorKinds() {
		if _, ok := r.processors[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}
