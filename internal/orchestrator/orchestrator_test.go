package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ttsd/internal/admission"
	"ttsd/internal/catalog"
	"ttsd/internal/engine"
	"ttsd/internal/flight"
	"ttsd/internal/registry"
	"ttsd/internal/store"
	"ttsd/pkg/types"
)

type fakeSession struct{ eng *fakeEngine }

func (s *fakeSession) Synthesize(ctx context.Context, p engine.Params) ([]byte, error) {
	s.eng.synthCalls.Add(1)
	if d := s.eng.synthDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.eng.synthErr.Load(); err != nil {
		return nil, *err
	}
	return []byte("audio:" + p.Text), nil
}

func (s *fakeSession) Convert(ctx context.Context, source, target []byte, format string) ([]byte, error) {
	s.eng.convertCalls.Add(1)
	return append([]byte("converted:"), source...), nil
}

func (s *fakeSession) Close() error { return nil }

type fakeEngine struct {
	loadCalls    atomic.Int32
	synthCalls   atomic.Int32
	convertCalls atomic.Int32
	synthDelay   time.Duration
	synthErr     atomic.Pointer[error]
}

func (e *fakeEngine) Load(ctx context.Context, modelID string, device types.Device) (engine.Session, error) {
	e.loadCalls.Add(1)
	return &fakeSession{eng: e}, nil
}

func (e *fakeEngine) failSynth(err error) {
	if err == nil {
		e.synthErr.Store(nil)
		return
	}
	e.synthErr.Store(&err)
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]types.Model{
		{ID: "m1", Name: "Cloning Model", Languages: []string{"en"}, MultiSpeaker: true, VoiceCloning: true},
		{ID: "m2", Name: "Plain Model", Languages: []string{"en"}},
		{ID: "vc1", Name: "Converter", VoiceConversion: true},
	})
}

func newTestOrchestrator(t *testing.T, eng *fakeEngine) *Orchestrator {
	t.Helper()
	st, err := store.Open(store.Config{Dir: t.TempDir(), TTL: time.Hour, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return newOrchestratorWith(t, eng, st, flight.NewCache())
}

func newOrchestratorWith(t *testing.T, eng *fakeEngine, st *store.Store, cache *flight.Cache) *Orchestrator {
	t.Helper()
	reg := registry.New(registry.Config{Engine: eng, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return New(Config{
		Catalog:          testCatalog(),
		Registry:         reg,
		Admission:        admission.New(map[types.Device]int{"cpu": 2}, 8, time.Second),
		Cache:            cache,
		Store:            st,
		DefaultModel:     "m1",
		DefaultFormat:    "wav",
		DefaultDevice:    "cpu",
		MaxTextLen:       1000,
		WaitTimeout:      2 * time.Second,
		InferenceTimeout: 5 * time.Second,
		Logger:           zerolog.Nop(),
	})
}

func TestConcurrentIdenticalRequestsShareOneInference(t *testing.T) {
	eng := &fakeEngine{synthDelay: 50 * time.Millisecond}
	o := newTestOrchestrator(t, eng)
	req := types.SynthesisRequest{Text: "hello world", Language: "en"}

	var wg sync.WaitGroup
	handles := make([]types.ArtifactHandle, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = o.Synthesize(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
	}
	if got := eng.synthCalls.Load(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
	if handles[0].ArtifactID != handles[1].ArtifactID {
		t.Fatalf("artifact ids differ: %q vs %q", handles[0].ArtifactID, handles[1].ArtifactID)
	}
	misses := 0
	for _, h := range handles {
		if !h.CacheHit {
			misses++
		}
	}
	if misses != 1 {
		t.Fatalf("cache misses = %d, want exactly the owner", misses)
	}
}

func TestSequentialRequestServedFromCache(t *testing.T) {
	eng := &fakeEngine{}
	o := newTestOrchestrator(t, eng)
	req := types.SynthesisRequest{Text: "cache me", Language: "en"}

	first, err := o.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first request cannot be a cache hit")
	}

	second, err := o.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.CacheHit || second.ArtifactID != first.ArtifactID {
		t.Fatalf("second = %+v, want cache hit on %q", second, first.ArtifactID)
	}
	if got := eng.synthCalls.Load(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
}

func TestFailurePropagatesToWaitersWithoutPoisoning(t *testing.T) {
	eng := &fakeEngine{synthDelay: 50 * time.Millisecond}
	eng.failSynth(errors.New("vocoder exploded"))
	o := newTestOrchestrator(t, eng)
	req := types.SynthesisRequest{Text: "doomed", Language: "en"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Synthesize(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !IsInference(err) {
			t.Fatalf("request %d: want inference error, got %v", i, err)
		}
	}
	if got := eng.synthCalls.Load(); got != 1 {
		t.Fatalf("engine calls = %d, want 1 (waiter shares the failure)", got)
	}

	// The failure was not cached; a retry runs a fresh inference.
	eng.failSynth(nil)
	h, err := o.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.CacheHit {
		t.Fatal("retry after failure cannot be a cache hit")
	}
	if got := eng.synthCalls.Load(); got != 2 {
		t.Fatalf("engine calls = %d, want 2", got)
	}
}

func TestOwnerCancellationAbortsWaitersRetryably(t *testing.T) {
	eng := &fakeEngine{synthDelay: 200 * time.Millisecond}
	o := newTestOrchestrator(t, eng)

	// Occupy both cpu run slots so the next owner parks in the wait queue.
	var busy sync.WaitGroup
	for _, text := range []string{"slot one", "slot two"} {
		busy.Add(1)
		go func(text string) {
			defer busy.Done()
			if _, err := o.Synthesize(context.Background(), types.SynthesisRequest{Text: text}); err != nil {
				t.Errorf("saturating request %q: %v", text, err)
			}
		}(text)
	}
	time.Sleep(30 * time.Millisecond)

	req := types.SynthesisRequest{Text: "owner walks away"}
	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	ownerErr := make(chan error, 1)
	go func() {
		_, err := o.Synthesize(ownerCtx, req)
		ownerErr <- err
	}()
	time.Sleep(30 * time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := o.Synthesize(context.Background(), req)
		waiterErr <- err
	}()
	time.Sleep(30 * time.Millisecond)

	cancelOwner()
	if err := <-ownerErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("owner error = %v, want its own cancellation", err)
	}
	// The waiter's request is healthy; it must see a typed retryable abort,
	// not the owner's context error.
	err := <-waiterErr
	if !IsAborted(err) {
		t.Fatalf("waiter error = %v, want aborted", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("waiter error %v leaks the owner's cancellation", err)
	}

	// Nothing was cached; a retry owns a fresh computation and succeeds.
	busy.Wait()
	h, err := o.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.CacheHit {
		t.Fatal("retry after abort cannot be a cache hit")
	}
}

func TestSynthesizeValidation(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEngine{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  types.SynthesisRequest
		want func(error) bool
	}{
		{"empty text", types.SynthesisRequest{Text: "   "}, IsValidation},
		{"oversized text", types.SynthesisRequest{Text: strings.Repeat("a", 1001)}, IsValidation},
		{"bad format", types.SynthesisRequest{Text: "hi", Format: "aiff"}, IsValidation},
		{"unknown model", types.SynthesisRequest{Text: "hi", Model: "nope"}, IsModelNotFound},
		{"unknown device", types.SynthesisRequest{Text: "hi", Device: "tpu"}, admission.IsDeviceUnavailable},
		{"cloning unsupported", types.SynthesisRequest{Text: "hi", Model: "m2", VoiceReference: []byte{1, 2}}, IsValidation},
	}
	for _, tc := range cases {
		_, err := o.Synthesize(ctx, tc.req)
		if !tc.want(err) {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}
}

func TestConvert(t *testing.T) {
	eng := &fakeEngine{}
	o := newTestOrchestrator(t, eng)
	ctx := context.Background()

	_, err := o.Convert(ctx, types.ConversionRequest{TargetVoice: []byte{1}})
	if !IsValidation(err) {
		t.Fatalf("missing source: got %v", err)
	}
	_, err = o.Convert(ctx, types.ConversionRequest{SourceAudio: []byte{1}})
	if !IsValidation(err) {
		t.Fatalf("missing target: got %v", err)
	}
	_, err = o.Convert(ctx, types.ConversionRequest{SourceAudio: []byte{1}, TargetVoice: []byte{2}, Model: "m1"})
	if !IsValidation(err) {
		t.Fatalf("non-conversion model: got %v", err)
	}

	// The default model is the first conversion-capable catalog entry.
	h, err := o.Convert(ctx, types.ConversionRequest{SourceAudio: []byte("src"), TargetVoice: []byte("tgt")})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if eng.convertCalls.Load() != 1 {
		t.Fatalf("convert calls = %d, want 1", eng.convertCalls.Load())
	}

	rc, info, err := o.Download(ctx, h.ArtifactID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "converted:src" {
		t.Fatalf("converted bytes = %q", b)
	}
	if info.Format != "wav" {
		t.Fatalf("format = %q, want wav", info.Format)
	}
}

func TestDownload(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEngine{})
	ctx := context.Background()

	h, err := o.Synthesize(ctx, types.SynthesisRequest{Text: "downloadable"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	rc, info, err := o.Download(ctx, h.ArtifactID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "audio:downloadable" {
		t.Fatalf("bytes = %q", b)
	}
	if info.SizeBytes != h.SizeBytes {
		t.Fatalf("size mismatch: %d vs %d", info.SizeBytes, h.SizeBytes)
	}

	_, _, err = o.Download(ctx, "ghost")
	if !store.IsNotFound(err) {
		t.Fatalf("unknown artifact: got %v", err)
	}
}

func TestCachePrimedAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeEngine{}
	st, err := store.Open(store.Config{Dir: dir, TTL: time.Hour, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	o := newOrchestratorWith(t, eng, st, flight.NewCache())

	req := types.SynthesisRequest{Text: "survives restarts"}
	first, err := o.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	st2, err := store.Open(store.Config{Dir: dir, TTL: time.Hour, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = st2.Close() })
	o2 := newOrchestratorWith(t, eng, st2, flight.NewCache())

	second, err := o2.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize after restart: %v", err)
	}
	if !second.CacheHit || second.ArtifactID != first.ArtifactID {
		t.Fatalf("want primed cache hit on %q, got %+v", first.ArtifactID, second)
	}
	if got := eng.synthCalls.Load(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
	if st2.RefCount(first.ArtifactID) != 1 {
		t.Fatalf("primed artifact refs = %d, want 1", st2.RefCount(first.ArtifactID))
	}
}

func TestReclaimedArtifactRecomputed(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeEngine{}
	st, err := store.Open(store.Config{Dir: dir, TTL: 20 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	o := newOrchestratorWith(t, eng, st, flight.NewCache())

	req := types.SynthesisRequest{Text: "short lived"}
	first, err := o.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	// The cache still points at the expired artifact; the orchestrator
	// must drop the dead reference and recompute.
	second, err := o.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("resynthesize: %v", err)
	}
	if second.CacheHit {
		t.Fatal("expired artifact must not be served as a hit")
	}
	if second.ArtifactID != first.ArtifactID {
		t.Fatalf("recomputed artifact id changed: %q vs %q", second.ArtifactID, first.ArtifactID)
	}
	if got := eng.synthCalls.Load(); got != 2 {
		t.Fatalf("engine calls = %d, want 2", got)
	}
}

func TestStatusAndReady(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEngine{})
	if !o.Ready() {
		t.Fatal("orchestrator with a configured default device must be ready")
	}
	if _, err := o.Synthesize(context.Background(), types.SynthesisRequest{Text: "status"}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	st := o.Status()
	if len(st.Handles) != 1 || st.Handles[0].ModelID != "m1" {
		t.Fatalf("handles = %+v", st.Handles)
	}
	if len(st.Lanes) != 1 || st.Lanes[0].Device != "cpu" {
		t.Fatalf("lanes = %+v", st.Lanes)
	}
	if st.Store.Artifacts != 1 {
		t.Fatalf("store artifacts = %d, want 1", st.Store.Artifacts)
	}
	if st.LoadsTotal != 1 {
		t.Fatalf("loads = %d, want 1", st.LoadsTotal)
	}
}

func TestModelStatusUnknownModel(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEngine{})
	if _, err := o.ModelStatus("ghost", "cpu"); !IsModelNotFound(err) {
		t.Fatalf("got %v", err)
	}
	st, err := o.ModelStatus("m1", "")
	if err != nil {
		t.Fatalf("model status: %v", err)
	}
	if st.State != types.ModelUnloaded {
		t.Fatalf("state = %q, want unloaded", st.State)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(store.Config{Dir: dir, TTL: 20 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	o := newOrchestratorWith(t, &fakeEngine{}, st, flight.NewCache())

	h, err := o.Synthesize(context.Background(), types.SynthesisRequest{Text: "temporary"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	// The cache entry still references the artifact, so the pass keeps it.
	removed, err := o.Cleanup(context.Background(), 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0 while referenced", removed)
	}
	_ = h
}
