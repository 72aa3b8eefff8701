package registry

import "ttsd/pkg/types"

// loadError wraps an engine load failure. cached marks errors served from a
// Failed handle inside its cooldown window, without a fresh attempt.
type loadError struct {
	model  string
	device types.Device
	err    error
	cached bool
}

func (e loadError) Error() string {
	msg := "model load failed: " + e.model + " on " + string(e.device) + ": " + e.err.Error()
	if e.cached {
		msg += " (cached until cooldown)"
	}
	return msg
}

func (e loadError) Unwrap() error { return e.err }

// IsLoadError reports whether err indicates a model load failure.
func IsLoadError(err error) bool {
	_, ok := err.(loadError)
	return ok
}

// notLoadedError signals an unload of an identity with no live handle.
type notLoadedError struct {
	model  string
	device types.Device
}

func (e notLoadedError) Error() string {
	return "model not loaded: " + e.model + " on " + string(e.device)
}

// ErrNotLoaded constructs a notLoadedError.
func ErrNotLoaded(model string, device types.Device) error {
	return notLoadedError{model: model, device: device}
}

// IsNotLoaded reports whether err indicates a missing handle.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}
