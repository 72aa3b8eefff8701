package orchestrator

import (
	"context"
	"strings"
	"time"

	"ttsd/internal/admission"
	"ttsd/internal/engine"
	"ttsd/internal/events"
	"ttsd/internal/flight"
	"ttsd/internal/store"
	"ttsd/pkg/types"
)

var allowedFormats = map[string]bool{"wav": true, "mp3": true, "flac": true}

// Synthesize resolves or produces the audio for a text-to-speech request.
// Identical concurrent requests share one inference and one artifact.
func (o *Orchestrator) Synthesize(ctx context.Context, req types.SynthesisRequest) (types.ArtifactHandle, error) {
	o.applySynthesisDefaults(&req)
	if err := o.validateSynthesis(req); err != nil {
		return types.ArtifactHandle{}, err
	}
	fp := flight.Compute(flight.Request{
		Kind:           "tts",
		Model:          req.Model,
		Language:       req.Language,
		Speaker:        req.Speaker,
		Text:           req.Text,
		Format:         req.Format,
		VoiceReference: req.VoiceReference,
	})
	return o.resolveOrCompute(ctx, fp, req.Model, req.Device, req.Format, func(ictx context.Context, sess engine.Session) ([]byte, error) {
		return sess.Synthesize(ictx, engine.Params{
			Text:           req.Text,
			Language:       req.Language,
			Speaker:        req.Speaker,
			VoiceReference: req.VoiceReference,
			Format:         req.Format,
		})
	})
}

// Convert resolves or produces a voice conversion: the speech in the source
// audio re-voiced with the target reference.
func (o *Orchestrator) Convert(ctx context.Context, req types.ConversionRequest) (types.ArtifactHandle, error) {
	o.applyConversionDefaults(&req)
	if err := o.validateConversion(req); err != nil {
		return types.ArtifactHandle{}, err
	}
	fp := flight.Compute(flight.Request{
		Kind:        "vc",
		Model:       req.Model,
		Format:      req.Format,
		SourceAudio: req.SourceAudio,
		TargetVoice: req.TargetVoice,
	})
	return o.resolveOrCompute(ctx, fp, req.Model, req.Device, req.Format, func(ictx context.Context, sess engine.Session) ([]byte, error) {
		return sess.Convert(ictx, req.SourceAudio, req.TargetVoice, req.Format)
	})
}

func (o *Orchestrator) applySynthesisDefaults(req *types.SynthesisRequest) {
	if req.Model == "" {
		req.Model = o.defaultModel
	}
	if req.Format == "" {
		req.Format = o.defaultFormat
	}
	req.Format = strings.ToLower(req.Format)
	if req.Device == "" {
		req.Device = o.defaultDevice
	}
}

func (o *Orchestrator) applyConversionDefaults(req *types.ConversionRequest) {
	if req.Model == "" {
		for _, m := range o.cat.List() {
			if m.VoiceConversion {
				req.Model = m.ID
				break
			}
		}
	}
	if req.Format == "" {
		req.Format = o.defaultFormat
	}
	req.Format = strings.ToLower(req.Format)
	if req.Device == "" {
		req.Device = o.defaultDevice
	}
}

// validateSynthesis rejects malformed requests before any resource is
// consumed.
func (o *Orchestrator) validateSynthesis(req types.SynthesisRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return validationError{reason: "text is required"}
	}
	if len(req.Text) > o.maxTextLen {
		return validationError{reason: "text too long"}
	}
	if !allowedFormats[req.Format] {
		return validationError{reason: "unsupported format: " + req.Format}
	}
	mdl, ok := o.cat.Get(req.Model)
	if !ok {
		return ErrModelNotFound(req.Model)
	}
	if len(req.VoiceReference) > 0 && !mdl.VoiceCloning {
		return validationError{reason: "model does not support voice cloning: " + req.Model}
	}
	if !o.adm.Has(req.Device) {
		return admission.ErrDeviceUnavailable(req.Device)
	}
	return nil
}

func (o *Orchestrator) validateConversion(req types.ConversionRequest) error {
	if len(req.SourceAudio) == 0 {
		return validationError{reason: "source_audio is required"}
	}
	if len(req.TargetVoice) == 0 {
		return validationError{reason: "target_voice is required"}
	}
	if !allowedFormats[req.Format] {
		return validationError{reason: "unsupported format: " + req.Format}
	}
	mdl, ok := o.cat.Get(req.Model)
	if !ok {
		return ErrModelNotFound(req.Model)
	}
	if !mdl.VoiceConversion {
		return validationError{reason: "model does not support voice conversion: " + req.Model}
	}
	if !o.adm.Has(req.Device) {
		return admission.ErrDeviceUnavailable(req.Device)
	}
	return nil
}

// resolveOrCompute is the core control flow: serve a live cached artifact,
// otherwise join or own the single computation for the fingerprint.
func (o *Orchestrator) resolveOrCompute(ctx context.Context, fp flight.Fingerprint, modelID string,
	device types.Device, format string, run func(context.Context, engine.Session) ([]byte, error)) (types.ArtifactHandle, error) {

	for {
		id, ok := o.cache.Resolve(fp)
		if !ok {
			break
		}
		m, err := o.st.Stat(id)
		if err == nil {
			cacheHits.Inc()
			return artifactHandle(m, true), nil
		}
		if store.IsNotFound(err) || store.IsExpired(err) {
			// The entry points at a reclaimed or expired artifact:
			// drop the cache reference and treat as a miss.
			if o.cache.Invalidate(fp, id) {
				o.st.Release(id)
			}
			break
		}
		return types.ArtifactHandle{}, err
	}

	comp, owner := o.cache.Begin(fp)
	if !owner {
		id, err := comp.Wait(ctx, o.waitTimeout)
		if err != nil {
			return types.ArtifactHandle{}, err
		}
		m, err := o.st.Stat(id)
		if err != nil {
			return types.ArtifactHandle{}, err
		}
		cacheHits.Inc()
		return artifactHandle(m, true), nil
	}

	cacheMisses.Inc()
	m, err := o.compute(ctx, fp, modelID, device, format, run)
	if err != nil {
		o.cache.Fail(comp, broadcastable(err))
		return types.ArtifactHandle{}, err
	}
	o.cache.Complete(comp, m.ID)
	return artifactHandle(m, false), nil
}

// broadcastable rewrites an owner failure for the waiters sharing the
// computation. Admit and Acquire surface the owner's ctx.Err() verbatim
// when the owner goes away mid-queue; waiters with healthy requests receive
// a typed abort they can retry, not someone else's cancellation. Typed
// failures (load, inference, admission) broadcast unchanged.
func broadcastable(err error) error {
	switch err {
	case context.Canceled, context.DeadlineExceeded:
		return abortedError{err: err}
	}
	return err
}

// compute runs the owner path: admission, model acquisition, the engine
// call and persistence. The engine call is non-preemptible: it detaches
// from caller cancellation so a disconnecting owner still produces the
// artifact every waiter and later request benefits from.
func (o *Orchestrator) compute(ctx context.Context, fp flight.Fingerprint, modelID string,
	device types.Device, format string, run func(context.Context, engine.Session) ([]byte, error)) (store.Meta, error) {

	ticket, err := o.adm.Admit(ctx, device, admission.PriorityNormal)
	if err != nil {
		if admission.IsQueueFull(err) {
			admissionRejected.WithLabelValues("queue_full").Inc()
		} else if admission.IsQueueTimeout(err) {
			admissionRejected.WithLabelValues("queue_timeout").Inc()
		}
		return store.Meta{}, err
	}
	defer ticket.Release()

	lease, err := o.reg.Acquire(ctx, modelID, device)
	if err != nil {
		return store.Meta{}, err
	}
	defer lease.Release()

	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.inferTimeout)
	defer cancel()
	start := time.Now()
	data, err := run(ictx, lease.Session())
	inferenceDuration.WithLabelValues(modelID, string(device)).Observe(time.Since(start).Seconds())
	if err != nil {
		inferencesTotal.WithLabelValues(modelID, string(device), "error").Inc()
		o.pub.Publish(events.Event{Name: "inference_failed", Model: modelID, Device: string(device),
			Fields: map[string]any{"error": err.Error()}})
		return store.Meta{}, inferenceError{model: modelID, err: err}
	}
	inferencesTotal.WithLabelValues(modelID, string(device), "ok").Inc()

	m, err := o.st.Persist(data, string(fp), format)
	if err != nil {
		return store.Meta{}, err
	}
	o.pub.Publish(events.Event{Name: "artifact_persisted", Model: modelID, Device: string(device),
		Fields: map[string]any{"artifact": m.ID, "bytes": m.SizeBytes}})
	o.log.Info().Str("model", modelID).Str("device", string(device)).
		Str("artifact", m.ID).Int64("bytes", m.SizeBytes).
		Dur("dur", time.Since(start)).Msg("synthesis complete")
	return m, nil
}

func artifactHandle(m store.Meta, hit bool) types.ArtifactHandle {
	return types.ArtifactHandle{
		ArtifactID:    m.ID,
		CacheHit:      hit,
		SizeBytes:     m.SizeBytes,
		Format:        m.Format,
		ExpiresAtUnix: m.ExpiresAt.Unix(),
	}
}
