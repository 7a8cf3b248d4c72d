package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrEmptyResponse marks a stream that ended without a final message.
// It is retryable: providers occasionally drop a response mid-flight.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// HTTPError carries a provider HTTP status for retry classification.
type HTTPError struct {
	Status int
	Msg    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider http %d: %s", e.Status, e.Msg)
}

// IsRetryable classifies transient provider failures: connection errors,
// timeouts, empty responses, and HTTP 429/500/502/503. Everything else
// surfaces immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case 429, 500, 502, 503:
			return true
		}
	}
	return false
}
