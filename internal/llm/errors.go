package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// BackendError is the uniform failure signal of every provider. StatusCode
// is zero when the request never produced a response.
type BackendError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, truncate(e.Message, 200))
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: rate limits, server
// errors and transport failures. A cancelled request is not retried.
func (e *BackendError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err carries a retryable BackendError.
func IsRetryable(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Retryable()
}

func statusError(provider string, status int, body []byte) *BackendError {
	return &BackendError{Provider: provider, StatusCode: status, Message: string(body)}
}

func transportError(provider string, err error) *BackendError {
	return &BackendError{Provider: provider, Message: err.Error(), Err: err}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
