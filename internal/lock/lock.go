package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bankcards/card-service/internal/errs"
)

// Registry hands out per-card exclusive locks. Every balance mutation runs
// under the lock of each card it touches; multi-card operations acquire locks
// in ascending card-ID order so two transfers moving money in opposite
// directions between the same pair of cards cannot deadlock.
type Registry struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
	wait  time.Duration
}

// NewRegistry creates a registry with the given bounded wait per acquisition.
func NewRegistry(wait time.Duration) *Registry {
	return &Registry{
		locks: make(map[int64]chan struct{}),
		wait:  wait,
	}
}

func (r *Registry) lockFor(cardID int64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[cardID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[cardID] = ch
	}
	return ch
}

// Acquire locks every card in the set and returns a release function. IDs are
// deduplicated and sorted ascending before acquisition. If any lock cannot be
// taken within the wait budget, all already-held locks are released and the
// call fails with Busy.
func (r *Registry) Acquire(ctx context.Context, cardIDs ...int64) (func(), error) {
	ids := dedupSorted(cardIDs)

	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		// Release in reverse acquisition order
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	timer := time.NewTimer(r.wait)
	defer timer.Stop()

	for _, id := range ids {
		ch := r.lockFor(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, errs.Busy("card %d: lock wait interrupted", id)
		case <-timer.C:
			release()
			return nil, errs.Busy("card %d: lock not acquired within %s", id, r.wait)
		}
	}
	return release, nil
}

func dedupSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
