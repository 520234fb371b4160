package ownership

import (
	"context"
	"time"
)

// Registry is the pid → ownership map shared by the classifier, the
// reconciler and the supervisor.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry wraps a Store. A nil store gets a MemoryStore.
func NewRegistry(store Store) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{store: store, now: time.Now}
}

// Lookup returns the stored ownership of pid.
func (r *Registry) Lookup(ctx context.Context, pid int) (Ownership, bool, error) {
	e, ok, err := r.store.Get(ctx, pid)
	if err != nil || !ok {
		return Ownership{}, false, err
	}
	return e.Ownership, true, nil
}

// Register records the ownership of pid, replacing any earlier entry.
func (r *Registry) Register(ctx context.Context, pid int, o Ownership) error {
	return r.store.Put(ctx, Entry{PID: pid, Ownership: o, RegisteredAt: r.now()})
}

// Forget removes pid from the registry.
func (r *Registry) Forget(ctx context.Context, pid int) error {
	return r.store.Delete(ctx, pid)
}

// Entries returns every registered pid.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	return r.store.List(ctx)
}

// Prune forgets every pid not in live and returns how many were removed.
func (r *Registry) Prune(ctx context.Context, live []int) (int, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}

	alive := make(map[int]struct{}, len(live))
	for _, pid := range live {
		alive[pid] = struct{}{}
	}

	removed := 0
	for _, e := range entries {
		if _, ok := alive[e.PID]; ok {
			continue
		}
		if err := r.store.Delete(ctx, e.PID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
