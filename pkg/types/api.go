package types

import "time"

// SynthesisRequest is the payload for POST /synthesize.
type SynthesisRequest struct {
	// Required text to synthesize.
	Text string `json:"text"`
	// Optional model identifier. If empty, the server default is used.
	Model string `json:"model,omitempty"`
	// Language code (e.g. "en"). Required for multilingual models.
	Language string `json:"language,omitempty"`
	// Optional speaker id for multi-speaker models.
	Speaker string `json:"speaker,omitempty"`
	// Optional base64-encoded reference audio for voice cloning.
	VoiceReference []byte `json:"voice_reference,omitempty"`
	// Output container format: wav, mp3 or flac. Defaults to wav.
	Format string `json:"format,omitempty"`
	// Target device. If empty, the server default is used.
	Device Device `json:"device,omitempty"`
}

// ConversionRequest is the payload for POST /convert.
type ConversionRequest struct {
	// Base64-encoded source audio whose speech is converted.
	SourceAudio []byte `json:"source_audio"`
	// Base64-encoded reference audio carrying the target voice.
	TargetVoice []byte `json:"target_voice"`
	// Optional conversion model identifier.
	Model string `json:"model,omitempty"`
	// Output container format. Defaults to wav.
	Format string `json:"format,omitempty"`
	// Target device. If empty, the server default is used.
	Device Device `json:"device,omitempty"`
}

// ArtifactHandle is returned by a successful synthesis or conversion.
type ArtifactHandle struct {
	// Identifier used with GET /audio/{id}.
	ArtifactID string `json:"artifact_id"`
	// True when the result was served from the cache without inference.
	CacheHit bool `json:"cache_hit"`
	// Size of the audio payload in bytes.
	SizeBytes int64 `json:"size_bytes"`
	// Audio container format of the artifact.
	Format string `json:"format"`
	// Expiry of the artifact in unix seconds.
	ExpiresAtUnix int64 `json:"expires_at_unix"`
}

// ArtifactInfo describes a stored artifact for download responses.
type ArtifactInfo struct {
	ID        string    `json:"id"`
	SizeBytes int64     `json:"size_bytes"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// Stable failure kind (e.g. "queue_timeout").
	Kind string `json:"kind,omitempty"`
	// HTTP status code.
	Code int `json:"code"`
}

// CleanupResponse is returned by DELETE /cleanup.
type CleanupResponse struct {
	// Number of artifacts removed by the pass.
	Removed int `json:"removed"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// HandleStatus summarizes one loaded (model, device) handle for /status.
type HandleStatus struct {
	ModelID string `json:"model_id"`
	Device  Device `json:"device"`
	// Current lifecycle state of the handle.
	State ModelState `json:"state"`
	// Last time this handle served an inference (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	// Number of inferences currently running on this handle.
	Inflight int `json:"inflight"`
	// Load error when state is failed.
	Error string `json:"error,omitempty"`
}

// LaneStatus summarizes one device admission lane for /status.
type LaneStatus struct {
	Device Device `json:"device"`
	// Concurrency budget of the device.
	Slots int `json:"slots"`
	// Inferences currently holding a slot.
	Running int `json:"running"`
	// Requests currently queued.
	QueueLen int `json:"queue_len"`
	// Maximum queued requests before QueueFull.
	QueueDepth int `json:"queue_depth"`
}

// StoreStatus summarizes the artifact store for /status.
type StoreStatus struct {
	// Number of artifacts currently indexed.
	Artifacts int `json:"artifacts"`
	// Total bytes of indexed artifacts.
	TotalBytes int64 `json:"total_bytes"`
	// Storage quota in bytes (0 = unlimited).
	QuotaBytes int64 `json:"quota_bytes"`
	// Total artifacts removed by reclamation since start.
	ReclaimedTotal uint64 `json:"reclaimed_total"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Handles []HandleStatus `json:"handles"`
	Lanes   []LaneStatus   `json:"lanes"`
	Store   StoreStatus    `json:"store"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
	// Total number of model loads since start.
	LoadsTotal uint64 `json:"loads_total"`
	// Total number of handle evictions since start.
	EvictionsTotal uint64 `json:"evictions_total"`
}
