// Package engine abstracts the neural synthesis runtime. The models
// themselves run out of process; this package only defines the capability
// the registry and orchestrator consume, plus an HTTP-backed implementation.
package engine

import (
	"context"

	"ttsd/pkg/types"
)

// Engine creates sessions for (model, device) pairs. Load is expensive and
// callers must not invoke it redundantly; the registry enforces that.
type Engine interface {
	// Load initializes the model on the given device and returns a live session.
	Load(ctx context.Context, modelID string, device types.Device) (Session, error)
}

// Params captures synthesis parameters passed to a session.
type Params struct {
	Text           string
	Language       string
	Speaker        string
	VoiceReference []byte
	Format         string
}

// Session represents a loaded model ready to run inference.
type Session interface {
	// Synthesize renders audio for the given parameters. Implementations
	// must return when the context is canceled.
	Synthesize(ctx context.Context, p Params) ([]byte, error)
	// Convert re-voices source audio with the target reference voice.
	Convert(ctx context.Context, source, target []byte, format string) ([]byte, error)
	// Close releases model resources held by the engine.
	Close() error
}
