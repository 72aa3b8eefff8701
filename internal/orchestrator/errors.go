package orchestrator

// validationError rejects malformed input before any resource is consumed.
type validationError struct{ reason string }

func (e validationError) Error() string { return "invalid request: " + e.reason }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// modelNotFoundError signals a model id absent from the catalog.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// abortedError tells waiters that the computation owner went away before
// the engine produced anything. No result exists, nothing is cached, and an
// immediate retry starts a fresh computation.
type abortedError struct{ err error }

func (e abortedError) Error() string { return "computation aborted: " + e.err.Error() }

// IsAborted reports whether err is an owner-side abort seen by a waiter.
func IsAborted(err error) bool {
	_, ok := err.(abortedError)
	return ok
}

// inferenceError wraps an engine-reported failure during synthesis.
type inferenceError struct {
	model string
	err   error
}

func (e inferenceError) Error() string { return "inference failed: " + e.model + ": " + e.err.Error() }
func (e inferenceError) Unwrap() error { return e.err }

// IsInference reports whether err is an engine failure.
func IsInference(err error) bool {
	_, ok := err.(inferenceError)
	return ok
}
