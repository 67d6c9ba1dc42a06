package resilience

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// statusCoder is implemented by SDK errors that expose the HTTP status of a
// failed API call.
type statusCoder interface {
	error
	HTTPStatus() int
}

// statusPattern pulls a status code out of error strings such as
// "API returned unexpected status code: 503" or "429 Too Many Requests".
var statusPattern = regexp.MustCompile(`(?i)status(?: code)?:?\s*(\d{3})|\b(\d{3}) (?:too many requests|internal server error|bad gateway|service unavailable|gateway timeout)`)

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a network timeout or reset, or an inference API failure
// whose status code is transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return IsTransientHTTPStatus(sc.HTTPStatus())
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
	if code, ok := StatusFromMessage(msg); ok {
		return IsTransientHTTPStatus(code)
	}

	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"rate limit",
		"overloaded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// StatusFromMessage extracts an HTTP status code embedded in an error message.
func StatusFromMessage(msg string) (int, bool) {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return code, true
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
