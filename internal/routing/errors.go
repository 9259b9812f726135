package routing

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for routing calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the provider returned invalid or undecodable data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the provider is unreachable or failing
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorRateLimited indicates the request quota was exceeded
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorNotFound indicates no route exists from the origin
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorInternal indicates an unexpected failure
	ErrorInternal ErrorCategory = "internal"
)

// ErrInvalidRequest is returned before any network call for unusable requests.
var ErrInvalidRequest = errors.New("invalid isoline request")

// ProviderError wraps a routing failure with its category and raw diagnostic.
type ProviderError struct {
	Underlying error
	Category   ErrorCategory
	Provider   string
	Message    string
	StatusCode int
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("routing provider %s [%s]", e.Provider, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

// Unwrap supports error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a categorized provider error.
func NewProviderError(category ErrorCategory, provider, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		Provider:   provider,
		Message:    message,
		Underlying: underlying,
	}
}

// GetCategory extracts the category from err, or ErrorInternal.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// IsSystemic reports whether err means every following request will fail too:
// a rejected credential or an unreachable provider.
func IsSystemic(err error) bool {
	switch GetCategory(err) {
	case ErrorAuthentication, ErrorProviderOutage:
		return true
	}
	return false
}

func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return ErrorAuthentication
	case status == 404:
		return ErrorNotFound
	case status == 408:
		return ErrorTimeout
	case status == 429:
		return ErrorRateLimited
	case status >= 500:
		return ErrorProviderOutage
	default:
		return ErrorInternal
	}
}
