package scheduler

import "sync"

// flightGroup tracks in-flight work by key. A second caller for an active
// key is refused rather than queued: scans must not pile up behind a slow
// root, and the next poll will pick the root up again anyway.
type flightGroup[K comparable] struct {
	mu     sync.Mutex
	active map[K]struct{}
}

// TryDo runs fn on the calling goroutine if no call is active for key, and
// reports whether it ran. The key is freed when fn returns or panics.
func (g *flightGroup[K]) TryDo(key K, fn func()) bool {
	g.mu.Lock()
	if g.active == nil {
		g.active = make(map[K]struct{})
	}
	if _, busy := g.active[key]; busy {
		g.mu.Unlock()
		return false
	}
	g.active[key] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.active, key)
		g.mu.Unlock()
	}()
	fn()
	return true
}

// Active returns how many keys are currently in flight.
func (g *flightGroup[K]) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
