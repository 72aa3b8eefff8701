// Package orchestrator composes the registry, fingerprint cache, admission
// controller and artifact store into the synthesis entry points the request
// surface calls. It owns request validation and the typed failure taxonomy
// surfaced to callers; it performs no retries of its own.
package orchestrator

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"ttsd/internal/admission"
	"ttsd/internal/catalog"
	"ttsd/internal/events"
	"ttsd/internal/flight"
	"ttsd/internal/registry"
	"ttsd/internal/store"
	"ttsd/pkg/types"
)

// Config encapsulates orchestrator tunables and collaborators.
type Config struct {
	Catalog   *catalog.Catalog
	Registry  *registry.Registry
	Admission *admission.Controller
	Cache     *flight.Cache
	Store     *store.Store

	DefaultModel  string
	DefaultFormat string
	DefaultDevice types.Device
	MaxTextLen    int
	// WaitTimeout bounds how long a joiner waits on a shared computation.
	WaitTimeout time.Duration
	// InferenceTimeout bounds one engine call once admitted.
	InferenceTimeout time.Duration

	Publisher events.Publisher
	Logger    zerolog.Logger
}

// Orchestrator is the façade between the request surface and the core.
type Orchestrator struct {
	cat   *catalog.Catalog
	reg   *registry.Registry
	adm   *admission.Controller
	cache *flight.Cache
	st    *store.Store

	defaultModel  string
	defaultFormat string
	defaultDevice types.Device
	maxTextLen    int
	waitTimeout   time.Duration
	inferTimeout  time.Duration

	pub events.Publisher
	log zerolog.Logger

	startTime time.Time
}

// New wires the orchestrator and primes the fingerprint cache from the
// persisted artifact index, so cached audio survives restarts.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		cat:           cfg.Catalog,
		reg:           cfg.Registry,
		adm:           cfg.Admission,
		cache:         cfg.Cache,
		st:            cfg.Store,
		defaultModel:  cfg.DefaultModel,
		defaultFormat: cfg.DefaultFormat,
		defaultDevice: cfg.DefaultDevice,
		maxTextLen:    cfg.MaxTextLen,
		waitTimeout:   cfg.WaitTimeout,
		inferTimeout:  cfg.InferenceTimeout,
		pub:           cfg.Publisher,
		log:           cfg.Logger,
		startTime:     time.Now(),
	}
	if o.defaultFormat == "" {
		o.defaultFormat = "wav"
	}
	if o.defaultDevice == "" {
		o.defaultDevice = types.DeviceCPU
	}
	if o.maxTextLen <= 0 {
		o.maxTextLen = 1000
	}
	if o.waitTimeout <= 0 {
		o.waitTimeout = 5 * time.Minute
	}
	if o.inferTimeout <= 0 {
		o.inferTimeout = 5 * time.Minute
	}
	if o.pub == nil {
		o.pub = events.Noop()
	}
	o.prime()
	return o
}

// prime rebuilds fingerprint-cache entries from the index. Each primed
// entry takes the reference the reconciled store dropped at startup.
func (o *Orchestrator) prime() {
	metas, err := o.st.Index()
	if err != nil {
		o.log.Warn().Err(err).Msg("cache priming")
		return
	}
	now := time.Now()
	primed := 0
	for _, m := range metas {
		if m.Expired(now) {
			continue
		}
		o.cache.Prime(flight.Fingerprint(m.Fingerprint), m.ID)
		o.st.Retain(m.ID)
		primed++
	}
	if primed > 0 {
		o.log.Info().Int("artifacts", primed).Msg("fingerprint cache primed from index")
	}
}

// ListModels returns the catalog contents.
func (o *Orchestrator) ListModels() []types.Model {
	return o.cat.List()
}

// ModelStatus reports the lifecycle state of one (model, device) identity.
func (o *Orchestrator) ModelStatus(modelID string, device types.Device) (types.HandleStatus, error) {
	if _, ok := o.cat.Get(modelID); !ok {
		return types.HandleStatus{}, ErrModelNotFound(modelID)
	}
	if device == "" {
		device = o.defaultDevice
	}
	return o.reg.ModelStatus(modelID, device), nil
}

// Ready reports whether the service can accept synthesis work.
func (o *Orchestrator) Ready() bool {
	return o.adm.Has(o.defaultDevice)
}

// Status builds the /status snapshot.
func (o *Orchestrator) Status() types.StatusResponse {
	loads, evictions := o.reg.Counters()
	return types.StatusResponse{
		Handles:        o.reg.Status(),
		Lanes:          o.adm.Status(),
		Store:          o.st.Status(),
		UptimeSeconds:  int64(time.Since(o.startTime) / time.Second),
		ServerTimeUnix: time.Now().Unix(),
		LoadsTotal:     loads,
		EvictionsTotal: evictions,
	}
}

// Download opens an artifact for streaming. The reader holds a download
// reference until closed.
func (o *Orchestrator) Download(ctx context.Context, artifactID string) (io.ReadCloser, types.ArtifactInfo, error) {
	rc, m, err := o.st.Get(artifactID)
	if err != nil {
		return nil, types.ArtifactInfo{}, err
	}
	info := types.ArtifactInfo{
		ID:        m.ID,
		SizeBytes: m.SizeBytes,
		Format:    m.Format,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
	return rc, info, nil
}

// Cleanup runs a manual reclamation pass. A positive maxAge additionally
// removes unreferenced artifacts older than that age even before expiry.
func (o *Orchestrator) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge > 0 {
		return o.st.RemoveOlderThan(maxAge)
	}
	return o.st.ReclaimPass()
}

// ReloadModel discards a cached load failure so the next request retries
// immediately.
func (o *Orchestrator) ReloadModel(modelID string, device types.Device) bool {
	if device == "" {
		device = o.defaultDevice
	}
	return o.reg.Reload(modelID, device)
}
