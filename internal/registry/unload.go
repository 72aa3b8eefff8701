package registry

import (
	"context"
	"time"

	"ttsd/internal/events"
	"ttsd/pkg/types"
)

// Unload initiates a graceful drain of a handle and removes it.
// New acquires are rejected once draining starts; the call waits for every
// in-flight inference to finish before releasing the engine session;
// running inference is never terminated. The context bounds only the wait
// for drain, not the inferences themselves.
func (r *Registry) Unload(ctx context.Context, modelID string, device types.Device) error {
	k := handleKey{model: modelID, device: device}
	r.mu.Lock()
	h, ok := r.handles[k]
	if !ok || h.draining {
		r.mu.Unlock()
		return ErrNotLoaded(modelID, device)
	}
	if h.state == types.ModelLoading {
		ready := h.ready
		r.mu.Unlock()
		// Let the single load attempt resolve first; loads are not
		// preemptible either.
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
	}
	h.draining = true
	var drained chan struct{}
	if h.inflight > 0 {
		drained = make(chan struct{})
		h.drainDone = drained
	}
	r.mu.Unlock()
	r.pub.Publish(events.Event{Name: "unload_start", Model: modelID, Device: string(device)})

	if drained != nil {
		select {
		case <-drained:
		case <-ctx.Done():
			// Stop waiting but keep the drain in motion: the final lease
			// release removes the handle and closes the session.
			return ctx.Err()
		}
	}
	r.removeHandle(h)
	r.pub.Publish(events.Event{Name: "unload_done", Model: modelID, Device: string(device)})
	return nil
}

// removeHandle deletes a drained handle and closes its session.
func (r *Registry) removeHandle(h *handle) {
	r.mu.Lock()
	if r.handles[h.key] == h {
		delete(r.handles, h.key)
		close(h.gone)
	}
	sess := h.sess
	h.sess = nil
	r.mu.Unlock()
	if sess != nil {
		if err := sess.Close(); err != nil {
			r.log.Warn().Err(err).Str("model", h.key.model).Msg("engine session close")
		}
	}
}

// evictForBudgetLocked makes room for one more handle under the loaded
// budget by discarding idle LRU handles. Busy handles are skipped; when
// everything is busy the budget is allowed to overshoot rather than block
// the load. Caller holds r.mu.
func (r *Registry) evictForBudgetLocked() {
	if r.maxLoaded <= 0 {
		return
	}
	for len(r.handles) >= r.maxLoaded {
		var lru *handle
		for _, h := range r.handles {
			if h.inflight > 0 || h.draining || h.state == types.ModelLoading {
				continue
			}
			if lru == nil || h.lastUsed.Before(lru.lastUsed) {
				lru = h
			}
		}
		if lru == nil {
			return
		}
		delete(r.handles, lru.key)
		close(lru.gone)
		r.evictionsTotal++
		if sess := lru.sess; sess != nil {
			lru.sess = nil
			go func() { _ = sess.Close() }()
		}
		r.pub.Publish(events.Event{Name: "evict", Model: lru.key.model, Device: string(lru.key.device)})
	}
}

// sweepIdle periodically unloads handles with no use inside the idle window.
func (r *Registry) sweepIdle() {
	defer close(r.sweepDone)
	interval := r.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-r.idleTimeout)
		r.mu.Lock()
		var idle []handleKey
		for k, h := range r.handles {
			if h.inflight == 0 && !h.draining && h.state != types.ModelLoading && h.lastUsed.Before(cutoff) {
				idle = append(idle, k)
			}
		}
		r.mu.Unlock()
		for _, k := range idle {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := r.Unload(ctx, k.model, k.device); err != nil && !IsNotLoaded(err) {
				r.log.Warn().Err(err).Str("model", k.model).Msg("idle unload")
			}
			cancel()
		}
	}
}

// Close stops the idle sweep and unloads every handle, draining in-flight
// work first.
func (r *Registry) Close(ctx context.Context) error {
	select {
	case <-r.stopSweep:
	default:
		close(r.stopSweep)
	}
	<-r.sweepDone
	r.mu.Lock()
	keys := make([]handleKey, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	for _, k := range keys {
		if err := r.Unload(ctx, k.model, k.device); err != nil && !IsNotLoaded(err) {
			return err
		}
	}
	return nil
}
