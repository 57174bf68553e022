package resilience

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient. statusCode is 0 for network errors.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError anywhere in the chain, a network timeout, a reset or
// refused connection, or a message matching a known transport failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
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
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is a retryable
// server-side condition. 529 is Anthropic's "overloaded".
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

// FailureKind buckets an error for operator-facing reporting.
type FailureKind string

const (
	FailureTransient   FailureKind = "transient"
	FailurePermanent   FailureKind = "permanent"
	FailureCircuitOpen FailureKind = "circuit_open"
)

// Classify buckets err. A nil error has no kind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return FailureCircuitOpen
	case IsTransient(err):
		return FailureTransient
	default:
		return FailurePermanent
	}
}

// Describe renders err as "kind: message", with the HTTP status when known.
// The result is what gets persisted against a failed submission.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	kind := string(Classify(err))
	var te *TransientError
	if errors.As(err, &te) && te.StatusCode > 0 {
		return kind + " (" + strconv.Itoa(te.StatusCode) + "): " + err.Error()
	}
	return kind + ": " + err.Error()
}
