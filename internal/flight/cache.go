package flight

import (
	"context"
	"sync"
	"time"
)

// Computation is the broadcast-once slot every waiter on one fingerprint
// subscribes to. The owner writes the result fields and closes done exactly
// once, via Cache.Complete or Cache.Fail.
type Computation struct {
	fp         Fingerprint
	done       chan struct{}
	artifactID string
	err        error
}

// Done is closed once the result is published.
func (c *Computation) Done() <-chan struct{} { return c.done }

// Result is valid only after Done is closed.
func (c *Computation) Result() (string, error) { return c.artifactID, c.err }

// Wait blocks until the owner publishes, the context is canceled, or the
// timeout elapses. A timeout means the computation is still running for
// other waiters; it is not failed on their behalf.
func (c *Computation) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.artifactID, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", waitTimeoutError{fp: c.fp}
	}
}

type entry struct {
	flight     *Computation // non-nil while a computation is in flight
	artifactID string       // set once completed
}

// Cache maps fingerprints to in-flight computations or completed artifact
// references. It holds references into the artifact store but never owns
// the artifacts themselves.
type Cache struct {
	mu      sync.Mutex
	entries map[Fingerprint]*entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[Fingerprint]*entry)}
}

// Resolve returns the completed artifact id for fp, if any. Liveness of the
// artifact is the caller's concern: a reference to an expired or deleted
// artifact must be dropped with Invalidate and treated as a miss.
func (c *Cache) Resolve(fp Fingerprint) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok || e.artifactID == "" {
		return "", false
	}
	return e.artifactID, true
}

// Begin reserves the computation slot for fp. The first caller per
// fingerprint gets owner=true and must publish via Complete or Fail; every
// concurrent caller receives the same Computation with owner=false. If the
// entry completed in the meantime, a pre-resolved Computation is returned.
func (c *Cache) Begin(fp Fingerprint) (*Computation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok {
		if e.flight != nil {
			return e.flight, false
		}
		// Completed while the caller was between Resolve and Begin.
		comp := &Computation{fp: fp, done: make(chan struct{}), artifactID: e.artifactID}
		close(comp.done)
		return comp, false
	}
	comp := &Computation{fp: fp, done: make(chan struct{})}
	c.entries[fp] = &entry{flight: comp}
	return comp, true
}

// Complete publishes a successful result to all waiters and replaces the
// cache entry with a direct artifact reference.
func (c *Cache) Complete(comp *Computation, artifactID string) {
	c.mu.Lock()
	if e, ok := c.entries[comp.fp]; ok && e.flight == comp {
		e.flight = nil
		e.artifactID = artifactID
	}
	c.mu.Unlock()
	comp.artifactID = artifactID
	close(comp.done)
}

// Fail publishes a typed failure to all waiters and removes the entry so a
// later identical request starts fresh. A failed attempt never poisons the
// cache.
func (c *Cache) Fail(comp *Computation, err error) {
	c.mu.Lock()
	if e, ok := c.entries[comp.fp]; ok && e.flight == comp {
		delete(c.entries, comp.fp)
	}
	c.mu.Unlock()
	comp.err = err
	close(comp.done)
}

// Invalidate drops a completed entry whose artifact went away. The artifact
// id must match so a concurrent recomputation is not clobbered. Reports
// whether an entry was removed.
func (c *Cache) Invalidate(fp Fingerprint, artifactID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok || e.flight != nil || e.artifactID != artifactID {
		return false
	}
	delete(c.entries, fp)
	return true
}

// Prime inserts a completed entry, used at startup to rebuild the cache
// from the persisted artifact index.
func (c *Cache) Prime(fp Fingerprint, artifactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[fp]; !ok {
		c.entries[fp] = &entry{artifactID: artifactID}
	}
}

// Len reports the number of live entries (in-flight and completed).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
