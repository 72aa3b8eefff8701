package registry

import (
	"context"
	"time"

	"ttsd/internal/events"
	"ttsd/pkg/types"
)

// Acquire returns a lease on a Ready handle for (modelID, device),
// converging concurrent callers on a single load attempt. Callers block
// until the loader resolves, the context is canceled, or a cached failure
// is served. A Failed handle inside its cooldown window returns the cached
// error without touching the engine.
func (r *Registry) Acquire(ctx context.Context, modelID string, device types.Device) (*Lease, error) {
	k := handleKey{model: modelID, device: device}
	for {
		r.mu.Lock()
		h, ok := r.handles[k]
		if !ok {
			r.evictForBudgetLocked()
			h = &handle{
				key:      k,
				state:    types.ModelLoading,
				ready:    make(chan struct{}),
				gone:     make(chan struct{}),
				lastUsed: time.Now(),
			}
			r.handles[k] = h
			r.mu.Unlock()
			go r.runLoad(h)
			r.mu.Lock()
		}

		if h.draining {
			gone := h.gone
			r.mu.Unlock()
			// Unload in progress; wait for removal, then start over with
			// a fresh handle.
			select {
			case <-gone:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		switch h.state {
		case types.ModelReady:
			h.inflight++
			h.lastUsed = time.Now()
			r.mu.Unlock()
			return &Lease{reg: r, h: h}, nil

		case types.ModelFailed:
			if time.Since(h.failedAt) < r.cooldown {
				err := h.err
				r.mu.Unlock()
				return nil, loadError{model: modelID, device: device, err: err, cached: true}
			}
			// Cooldown elapsed: this caller restarts the load-once protocol.
			h.state = types.ModelLoading
			h.ready = make(chan struct{})
			h.err = nil
			r.mu.Unlock()
			go r.runLoad(h)

		case types.ModelLoading:
			ready := h.ready
			r.mu.Unlock()
			// runLoad is deadline-bounded, so ready always closes.
			select {
			case <-ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// runLoad performs the single load attempt for a handle. It runs detached
// from any caller so one disconnecting waiter cannot abort the load for
// the rest.
func (r *Registry) runLoad(h *handle) {
	start := time.Now()
	r.pub.Publish(events.Event{Name: "load_start", Model: h.key.model, Device: string(h.key.device)})
	r.log.Info().Str("model", h.key.model).Str("device", string(h.key.device)).Msg("model load start")

	ctx, cancel := context.WithTimeout(context.Background(), r.loadTimeout)
	defer cancel()
	sess, err := r.eng.Load(ctx, h.key.model, h.key.device)

	r.mu.Lock()
	if err != nil {
		h.state = types.ModelFailed
		h.err = err
		h.failedAt = time.Now()
	} else {
		h.state = types.ModelReady
		h.sess = sess
		h.err = nil
		r.loadsTotal++
	}
	close(h.ready)
	r.mu.Unlock()

	if err != nil {
		r.pub.Publish(events.Event{Name: "load_failed", Model: h.key.model, Device: string(h.key.device),
			Fields: map[string]any{"error": err.Error()}})
		r.log.Error().Err(err).Str("model", h.key.model).Str("device", string(h.key.device)).Msg("model load failed")
		return
	}
	r.pub.Publish(events.Event{Name: "load_ready", Model: h.key.model, Device: string(h.key.device),
		Fields: map[string]any{"dur_ms": int(time.Since(start) / time.Millisecond)}})
	r.log.Info().Str("model", h.key.model).Str("device", string(h.key.device)).
		Dur("dur", time.Since(start)).Msg("model load ready")
}

// Reload discards a Failed handle so the next Acquire starts a fresh load
// attempt immediately, bypassing the cooldown. Reports whether a failed
// handle was discarded.
func (r *Registry) Reload(modelID string, device types.Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := handleKey{model: modelID, device: device}
	h, ok := r.handles[k]
	if !ok || h.state != types.ModelFailed || h.inflight > 0 {
		return false
	}
	delete(r.handles, k)
	close(h.gone)
	return true
}
