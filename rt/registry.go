package rt

import "sync"

// Registry tracks the live mutator worlds of a process so collector
// phases can reach every thread: arm all signal pages, walk all shadow
// stacks, cycle a shared pinning log. Registration is thread-scoped; a
// world registers when its thread enters managed code and deregisters
// when it leaves for good.
type Registry struct {
	m sync.RWMutex
	// worlds maps each context block address to its world.
	worlds map[uintptr]*World
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{worlds: make(map[uintptr]*World)}
}

// Register adds w to the registry.
func (r *Registry) Register(w *World) {
	r.m.Lock()
	defer r.m.Unlock()
	r.worlds[w.Mutator()] = w
}

// Deregister removes w from the registry.
func (r *Registry) Deregister(w *World) {
	r.m.Lock()
	defer r.m.Unlock()
	delete(r.worlds, w.Mutator())
}

// ByContext returns the world owning the context block at ctx, or nil.
func (r *Registry) ByContext(ctx uintptr) *World {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.worlds[ctx]
}

// Len returns the number of registered worlds.
func (r *Registry) Len() int {
	r.m.RLock()
	defer r.m.RUnlock()
	return len(r.worlds)
}

// Each calls fn on each registered world until fn returns false.
// Iteration order is unspecified.
func (r *Registry) Each(fn func(*World) bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	for _, w := range r.worlds {
		if !fn(w) {
			return
		}
	}
}

// ArmAll arms every registered world's signal page, so the next
// safepoint each thread polls faults.
func (r *Registry) ArmAll() {
	r.Each(func(w *World) bool { w.ArmSafepoints(); return true })
}

// DisarmAll releases every registered world's signal page.
func (r *Registry) DisarmAll() {
	r.Each(func(w *World) bool { w.DisarmSafepoints(); return true })
}
