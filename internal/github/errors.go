package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed API call.
type Kind int

const (
	// KindTransient is a transport-level failure. It is never retried.
	KindTransient Kind = iota
	// KindRateLimited asks the caller to slow down or switch credentials.
	KindRateLimited
	// KindFatal is any other non-2xx response.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// APIError is the classified failure of one API call.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
	URL     string
	Err     error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindTransient:
		return fmt.Sprintf("github: request to %s failed: %v", e.URL, e.Err)
	case KindRateLimited:
		return fmt.Sprintf("github: rate limited by %s (status %d): %s", e.URL, e.Status, e.Message)
	default:
		if e.Status == 0 {
			return fmt.Sprintf("github: %s: %s", e.URL, e.Message)
		}
		if e.Message == "" {
			return fmt.Sprintf("github: %s returned status %d", e.URL, e.Status)
		}
		return fmt.Sprintf("github: %s returned status %d: %s", e.URL, e.Status, e.Message)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify maps a non-2xx status and its decoded error message to a Kind.
func Classify(status int, message string) Kind {
	if status == http.StatusTooManyRequests || status == http.StatusUnprocessableEntity {
		return KindRateLimited
	}
	if isRateLimitMessage(message) {
		return KindRateLimited
	}
	return KindFatal
}

func isRateLimitMessage(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "abuse") || strings.Contains(m, "rate limit")
}

// AsAPIError extracts the classified error from err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsRateLimited reports whether err asks for credential rotation.
func IsRateLimited(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindRateLimited
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindFatal && apiErr.Status == http.StatusNotFound
}

// IsHTTPStatus reports whether err is a non-rate-limit HTTP error response,
// as opposed to a transport failure.
func IsHTTPStatus(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindFatal && apiErr.Status > 0
}
