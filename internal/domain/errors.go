package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrRateLimited             = errors.New("rate limit exceeded")
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
	ErrProviderTransient       = errors.New("provider error")
	ErrEmptyReply              = errors.New("empty reply")
	ErrNotConfigured           = errors.New("provider not configured")
	ErrParseFailure            = errors.New("parse failure")
)

type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

func InvalidInput(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %ds", e.Scope, e.RetryAfterSeconds())
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds up so a client never retries before the window
// actually resets.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// AllProvidersUnavailableError lists the candidates actually tried. Skipped
// holds candidates passed over without a call, such as providers with no
// credentials.
type AllProvidersUnavailableError struct {
	Attempts []Attempt
	Skipped  []string
}

func (e *AllProvidersUnavailableError) Error() string {
	msg := "all providers unavailable: no candidates attempted"
	if len(e.Attempts) > 0 {
		parts := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			parts[i] = a.Provider + ": " + a.Error()
		}
		msg = "all providers unavailable: " + strings.Join(parts, "; ")
	}
	if len(e.Skipped) > 0 {
		msg += " (skipped: " + strings.Join(e.Skipped, ", ") + ")"
	}
	return msg
}

func (e *AllProvidersUnavailableError) Unwrap() error { return ErrAllProvidersUnavailable }

// Providers returns the attempted provider names in attempt order.
func (e *AllProvidersUnavailableError) Providers() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return names
}

// ErrorClass groups provider failures for logs and metrics.
type ErrorClass string

const (
	ClassTimeout       ErrorClass = "timeout"
	ClassCanceled      ErrorClass = "canceled"
	ClassTransport     ErrorClass = "transport"
	ClassEmptyReply    ErrorClass = "empty_reply"
	ClassProviderError ErrorClass = "provider_error"
)

type ProviderError struct {
	Provider string
	Class    ErrorClass
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProviderTransient, e.Err} }
