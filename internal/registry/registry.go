// Package registry owns the lifecycle of loaded inference engines, keyed by
// (model id, device). It guarantees a single load attempt per identity,
// caches load failures until a cooldown elapses, drains in-flight work
// before unloading, and evicts idle handles under a loaded-model budget.
//
// Files by concern:
//
//   - registry.go: Registry type, constructor, status reporting.
//   - handle.go: internal handle state and the Lease type.
//   - acquire.go: load-once Acquire protocol.
//   - unload.go: drain, unload, idle sweep and budget eviction.
//   - errors.go: error types and predicates.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ttsd/internal/engine"
	"ttsd/internal/events"
	"ttsd/pkg/types"
)

// Config encapsulates all tunables for Registry construction.
type Config struct {
	Engine engine.Engine
	// LoadTimeout bounds one engine load attempt.
	LoadTimeout time.Duration
	// Cooldown is how long a cached load failure is served before a fresh
	// attempt is allowed.
	Cooldown time.Duration
	// IdleTimeout unloads handles with no use inside the window. Zero
	// disables the sweep.
	IdleTimeout time.Duration
	// MaxLoaded caps concurrently loaded handles. Zero means unlimited.
	MaxLoaded int
	Publisher events.Publisher
	Logger    zerolog.Logger
}

// Registry tracks every (model, device) handle.
type Registry struct {
	mu      sync.Mutex
	handles map[handleKey]*handle

	eng         engine.Engine
	loadTimeout time.Duration
	cooldown    time.Duration
	idleTimeout time.Duration
	maxLoaded   int
	pub         events.Publisher
	log         zerolog.Logger

	loadsTotal     uint64
	evictionsTotal uint64

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Defaults applied when corresponding Config fields are unset.
const (
	defaultLoadTimeout = 2 * time.Minute
	defaultCooldown    = time.Minute
)

// New constructs a Registry and starts the idle sweep when configured.
func New(cfg Config) *Registry {
	r := &Registry{
		handles:     make(map[handleKey]*handle),
		eng:         cfg.Engine,
		loadTimeout: cfg.LoadTimeout,
		cooldown:    cfg.Cooldown,
		idleTimeout: cfg.IdleTimeout,
		maxLoaded:   cfg.MaxLoaded,
		pub:         cfg.Publisher,
		log:         cfg.Logger,
		stopSweep:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	if r.loadTimeout <= 0 {
		r.loadTimeout = defaultLoadTimeout
	}
	if r.cooldown <= 0 {
		r.cooldown = defaultCooldown
	}
	if r.pub == nil {
		r.pub = events.Noop()
	}
	if r.idleTimeout > 0 {
		go r.sweepIdle()
	} else {
		close(r.sweepDone)
	}
	return r
}

// ModelStatus reports the lifecycle state of one (model, device) identity.
// Unknown identities are Unloaded.
func (r *Registry) ModelStatus(modelID string, device types.Device) types.HandleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[handleKey{model: modelID, device: device}]
	if !ok {
		return types.HandleStatus{ModelID: modelID, Device: device, State: types.ModelUnloaded}
	}
	return h.status()
}

// Status reports every live handle, sorted for stable output.
func (r *Registry) Status() []types.HandleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.HandleStatus, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h.status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModelID != out[j].ModelID {
			return out[i].ModelID < out[j].ModelID
		}
		return out[i].Device < out[j].Device
	})
	return out
}

// Counters returns total loads and evictions since start.
func (r *Registry) Counters() (loads, evictions uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadsTotal, r.evictionsTotal
}
