package types

// Device identifies an execution device for inference.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// Model describes a synthesis model known to the catalog.
type Model struct {
	// Stable identifier for the model.
	ID string `json:"id"`
	// Human-friendly name.
	Name string `json:"name"`
	// Languages the model can synthesize; empty means single-language.
	Languages []string `json:"languages,omitempty"`
	// True when the model accepts a named speaker id.
	MultiSpeaker bool `json:"multi_speaker,omitempty"`
	// True when the model accepts reference audio for voice cloning.
	VoiceCloning bool `json:"voice_cloning,omitempty"`
	// True when the model performs voice conversion.
	VoiceConversion bool `json:"voice_conversion,omitempty"`
}

// ModelState is the lifecycle state of one (model, device) handle.
type ModelState string

const (
	ModelUnloaded ModelState = "unloaded"
	ModelLoading  ModelState = "loading"
	ModelReady    ModelState = "ready"
	ModelFailed   ModelState = "failed"
)
