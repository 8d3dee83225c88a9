package llm

import (
	"errors"
	"net/http"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeProvider        ErrorType = "provider"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRequestTooLarge
	}
	return false
}

// IsInvalidRequestError checks if an error reports a malformed request.
func IsInvalidRequestError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeInvalidRequest
	}
	return false
}

// IsRetryableError checks if an error is retryable.
// Errors that carry no classification are treated as transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return true
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  http.StatusTooManyRequests,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   false,
		StatusCode:  http.StatusRequestEntityTooLarge,
		ProviderErr: providerErr,
	}
}

// NewInvalidRequestError creates an error for a request that can never succeed as sent.
func NewInvalidRequestError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeInvalidRequest,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// ClassifyStatus wraps a provider error according to its HTTP status code.
// Rate limits, timeouts, conflicts and server-side failures are retryable;
// every other client error is not.
func ClassifyStatus(statusCode int, message string, providerErr error) *Error {
	e := &Error{
		Message:     message,
		StatusCode:  statusCode,
		ProviderErr: providerErr,
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Type = ErrorTypeRateLimit
		e.Retryable = true
	case statusCode == http.StatusRequestTimeout:
		e.Type = ErrorTypeTimeout
		e.Retryable = true
	case statusCode == http.StatusConflict:
		e.Type = ErrorTypeProvider
		e.Retryable = true
	case statusCode == http.StatusRequestEntityTooLarge:
		e.Type = ErrorTypeRequestTooLarge
	case statusCode >= 500:
		// 529 (overloaded) lands here too.
		e.Type = ErrorTypeProvider
		e.Retryable = true
	case statusCode >= 400:
		e.Type = ErrorTypeInvalidRequest
	default:
		e.Type = ErrorTypeUnknown
		e.Retryable = true
	}
	return e
}
