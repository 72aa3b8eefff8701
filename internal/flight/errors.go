package flight

// waitTimeoutError signals that a waiter gave up on a shared computation
// that is still running.
type waitTimeoutError struct{ fp Fingerprint }

func (e waitTimeoutError) Error() string {
	fp := string(e.fp)
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return "timed out waiting for shared computation " + fp
}

// IsWaitTimeout reports whether err is a waiter-side timeout.
func IsWaitTimeout(err error) bool {
	_, ok := err.(waitTimeoutError)
	return ok
}
