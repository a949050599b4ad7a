package layer

import (
	"sort"
	"sync"
)

// Advertisement is a layer's self-reported capability set and health.
type Advertisement struct {
	Layer        ID           `json:"layer"`
	Capabilities []Capability `json:"capabilities"`
	Version      string       `json:"version"`
	Load         float64      `json:"load"` // 0.0 to 1.0
	Healthy      bool         `json:"healthy"`
}

// Registry maps capabilities to the layers that provide them. Layers
// register an Advertisement at startup and re-register to update load or
// health; the router consults the registry when retargeting events.
type Registry struct {
	mu             sync.RWMutex
	providers      map[Capability][]ID
	advertisements map[ID]Advertisement
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:      make(map[Capability][]ID),
		advertisements: make(map[ID]Advertisement),
	}
}

// Register records a layer's advertisement, replacing any previous one.
func (r *Registry) Register(ad Advertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-registration replaces the old advertisement entirely, so drop the
	// layer from all provider lists before re-adding.
	r.removeLocked(ad.Layer)

	for _, c := range ad.Capabilities {
		r.providers[c] = append(r.providers[c], ad.Layer)
	}
	r.advertisements[ad.Layer] = ad
}

// Unregister removes a layer and all of its provider entries. Unregistering
// an unknown layer is a no-op.
func (r *Registry) Unregister(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id ID) {
	for c, providers := range r.providers {
		kept := providers[:0]
		for _, p := range providers {
			if p != id {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(r.providers, c)
		} else {
			r.providers[c] = kept
		}
	}
	delete(r.advertisements, id)
}

// Providers returns the layers advertising the given capability.
func (r *Registry) Providers(c Capability) []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, len(r.providers[c]))
	copy(out, r.providers[c])
	return out
}

// BestProvider returns the healthy provider with the lowest reported load,
// or "" if no healthy provider advertises the capability.
func (r *Registry) BestProvider(c Capability) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best ID
	bestLoad := 2.0 // above any valid load
	found := false
	for _, id := range r.providers[c] {
		ad, ok := r.advertisements[id]
		if !ok || !ad.Healthy {
			continue
		}
		if ad.Load < bestLoad {
			best = id
			bestLoad = ad.Load
			found = true
		}
	}
	return best, found
}

// CanSatisfy reports whether every capability in required has at least one
// registered provider (healthy or not; health only matters for selection).
func (r *Registry) CanSatisfy(required []Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range required {
		if len(r.providers[c]) == 0 {
			return false
		}
	}
	return true
}

// Advertisement returns the stored advertisement for a layer.
func (r *Registry) Advertisement(id ID) (Advertisement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ad, ok := r.advertisements[id]
	return ad, ok
}

// Layers returns all registered layer IDs, sorted so callers that cycle
// through them (round-robin) see a stable order.
func (r *Registry) Layers() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, 0, len(r.advertisements))
	for id := range r.advertisements {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
