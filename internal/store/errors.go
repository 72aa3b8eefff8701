package store

// notFoundError signals a download of a missing or reclaimed artifact.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "artifact not found: " + e.id }

// IsNotFound reports whether err indicates a missing artifact.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// expiredError signals a download of an artifact past its expiry.
type expiredError struct{ id string }

func (e expiredError) Error() string { return "artifact expired: " + e.id }

// IsExpired reports whether err indicates an expired artifact.
func IsExpired(err error) bool {
	_, ok := err.(expiredError)
	return ok
}

// storageError wraps a filesystem or index failure.
type storageError struct {
	op  string
	err error
}

func (e storageError) Error() string { return "storage " + e.op + ": " + e.err.Error() }
func (e storageError) Unwrap() error { return e.err }

// IsStorage reports whether err is a storage-layer failure.
func IsStorage(err error) bool {
	_, ok := err.(storageError)
	return ok
}
