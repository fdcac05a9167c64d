package inference

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("inference: API key required")

	// ErrNoModel is returned when the model is missing.
	ErrNoModel = errors.New("inference: model required")

	// ErrNoCandidates is returned when the service answered with nothing usable.
	ErrNoCandidates = errors.New("inference: response has no candidates")
)

// APIError is an error response from a generation service.
type APIError struct {
	StatusCode int
	Reason     string
	Provider   string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("inference [%s]: API error %d (%s): %v", e.Provider, e.StatusCode, e.Reason, e.Err)
	}
	return fmt.Sprintf("inference [%s]: API error %d: %v", e.Provider, e.StatusCode, e.Err)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for authentication failures.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsRetryable returns true if the request may succeed when retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	var ae *APIError
	if errors.As(err, &pe) || errors.As(err, &ae) {
		return err
	}
	return &ProviderError{Provider: provider, Err: err}
}
