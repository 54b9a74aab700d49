package connector

import "sync"

// Registry holds the set of configured connector handles keyed by id.
// Updates take a write lock; fan-out (and any other reader) takes an
// atomic snapshot of the current set, so the set may change at runtime
// without readers observing a torn view (spec §4.3, §5).
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewRegistry(initial ...Connector) *Registry {
	r := &Registry{connectors: map[string]Connector{}}
	for _, c := range initial {
		r.Add(c)
	}
	return r
}

// Add registers or replaces a connector by id.
func (r *Registry) Add(c Connector) {
	if r == nil || c.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectors == nil {
		r.connectors = map[string]Connector{}
	}
	r.connectors[c.ID] = c
}

// Remove deregisters a connector. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connectors, id)
}

// Get returns the connector registered under id, if any. A missing
// connector is not an error anywhere in this module (spec §4.3).
func (r *Registry) Get(id string) (Connector, bool) {
	if r == nil {
		return Connector{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	return c, ok
}

// Snapshot returns the current set of connectors as a stable slice. The
// fan-out always reads a snapshot rather than iterating the live map.
func (r *Registry) Snapshot() []Connector {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	return out
}

// WithCapability filters a snapshot down to connectors advertising cap.
func WithCapability(snapshot []Connector, cap Capability) []Connector {
	out := make([]Connector, 0, len(snapshot))
	for _, c := range snapshot {
		if c.Has(cap) {
			out = append(out, c)
		}
	}
	return out
}
