package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a failure that is safe to retry: timeouts,
// rate limits, 5xx-class responses, dropped connections.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps a failure that retrying cannot fix: malformed
// responses, auth rejections, invalid requests. Callers fail the record
// immediately instead of burning the retry budget.
type PermanentError struct {
	Err    error
	Reason string
}

func (e *PermanentError) Error() string {
	if e.Reason != "" {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as non-retryable with a short reason tag.
func NewPermanentError(err error, reason string) *PermanentError {
	return &PermanentError{Err: err, Reason: reason}
}

// IsPermanent reports whether err carries a PermanentError in its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err is safe to retry. An explicit
// PermanentError wins over every other signal. Otherwise a TransientError
// in the chain, a network timeout, a reset connection, or a known
// transient message pattern qualifies. Context cancellation never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status code indicates a
// server-side condition that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
