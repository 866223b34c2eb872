package plugin

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Registry holds loaded plugins in registration order. Readers take an
// immutable snapshot without locking; writers copy, append and swap
// under a mutex. The dispatch loop therefore never contends with a
// load in progress.
type Registry struct {
	mu   sync.Mutex
	list atomic.Pointer[[]*Plugin]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := make([]*Plugin, 0)
	r.list.Store(&empty)
	return r
}

// Add appends p, preserving registration order.
func (r *Registry) Add(p *Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.list.Load()
	next := make([]*Plugin, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = p
	r.list.Store(&next)
}

// Snapshot returns the current plugin list. The slice is never
// mutated after publication, so callers may hold it across an event
// without a lock.
func (r *Registry) Snapshot() []*Plugin {
	return *r.list.Load()
}

// Len returns the number of loaded plugins.
func (r *Registry) Len() int {
	return len(*r.list.Load())
}

// CloseAll releases every plugin. Call only after the dispatch loop
// has stopped.
func (r *Registry) CloseAll(ctx context.Context) {
	for _, p := range r.Snapshot() {
		if err := p.Close(ctx); err != nil {
			log.Warn().Err(err).Str("plugin_id", p.ID.String()).Msg("plugin close failed")
		}
	}
}
