package icon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidURL is returned when a site identifier cannot be normalized.
	ErrInvalidURL = errors.New("invalid url")
	// ErrFetchTimeout is returned when an outbound request exceeds its deadline.
	ErrFetchTimeout = errors.New("fetch timeout")
	// ErrFetchNetwork covers DNS, connection and TLS failures.
	ErrFetchNetwork = errors.New("fetch network error")
	// ErrInvalidImageContent is returned when fetched bytes are not a decodable icon.
	ErrInvalidImageContent = errors.New("invalid image content")
	// ErrInternal marks unexpected, malformed internal state.
	ErrInternal = errors.New("internal inconsistency")
)

// FetchHTTPError reports a non-2xx upstream status.
type FetchHTTPError struct {
	URL    string
	Status int
}

func (e *FetchHTTPError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// IsRetryable reports whether a per-candidate fetch failure is worth another attempt.
// Timeouts, network errors, 5xx and 429 are retryable; other statuses and content
// errors are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrFetchTimeout) || errors.Is(err, ErrFetchNetwork) {
		return true
	}
	var httpErr *FetchHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= http.StatusInternalServerError || httpErr.Status == http.StatusTooManyRequests
	}
	return false
}

// FailureReason labels a per-candidate failure for logs and metrics.
func FailureReason(err error) string {
	var httpErr *FetchHTTPError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFetchTimeout):
		return "timeout"
	case errors.Is(err, ErrFetchNetwork):
		return "network"
	case errors.As(err, &httpErr):
		if httpErr.Status >= http.StatusInternalServerError {
			return "http_5xx"
		}
		return "http_4xx"
	case errors.Is(err, ErrInvalidImageContent):
		return "invalid_content"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
