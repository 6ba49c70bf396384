package scoreapi

// requestError wraps a single failed request attempt and records whether the
// retry loop may try again (transport failures and 5xx) or must surface the
// error immediately (4xx, malformed payloads).
type requestError struct {
	err       error
	retryable bool
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }
