package registry

import (
	"sync"
	"time"

	"ttsd/internal/engine"
	"ttsd/pkg/types"
)

type handleKey struct {
	model  string
	device types.Device
}

// handle is the per-(model, device) lifecycle record. All fields are
// guarded by Registry.mu except sess, which is written once before ready
// closes and read only by lease holders afterwards.
type handle struct {
	key   handleKey
	state types.ModelState

	// ready is closed when the current load attempt resolves to Ready or
	// Failed. Replaced on every fresh attempt.
	ready chan struct{}
	// gone is closed when the handle is removed from the table, waking
	// acquirers that hit it mid-drain.
	gone chan struct{}

	sess     engine.Session
	err      error
	failedAt time.Time

	lastUsed time.Time
	inflight int
	draining bool
	// drainDone is non-nil while an unload waits for in-flight work.
	drainDone chan struct{}
}

func (h *handle) status() types.HandleStatus {
	st := types.HandleStatus{
		ModelID:  h.key.model,
		Device:   h.key.device,
		State:    h.state,
		LastUsed: h.lastUsed.Unix(),
		Inflight: h.inflight,
	}
	if h.err != nil {
		st.Error = h.err.Error()
	}
	return st
}

// Lease is a granted use of a Ready handle. The registry counts leases so
// unload can drain; Release must be called when the inference finishes.
type Lease struct {
	reg  *Registry
	h    *handle
	once sync.Once
}

// Session returns the engine session backing the lease.
func (l *Lease) Session() engine.Session { return l.h.sess }

// Release returns the lease. Safe to defer; releasing twice is a no-op.
// The last lease out of a draining handle completes the removal itself, so
// a drain whose Unload call stopped waiting still resolves here.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.reg.mu.Lock()
		l.h.inflight--
		l.h.lastUsed = time.Now()
		drained := l.h.draining && l.h.inflight == 0
		if drained && l.h.drainDone != nil {
			close(l.h.drainDone)
			l.h.drainDone = nil
		}
		l.reg.mu.Unlock()
		if drained {
			l.reg.removeHandle(l.h)
		}
	})
}
