package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a request or retry wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429, and 503 responses that ask the caller to slow down.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents a response that arrived but could not be understood.
	ErrorClassParse ErrorClass = "parse"
)

// SourceError is a failed upstream call: network, server-side or parse failure.
type SourceError struct {
	Source     string
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	prefix := fmt.Sprintf("%s %s error", e.Source, e.Class)
	if e.StatusCode != 0 {
		prefix += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewParseError reports a response body that could not be turned into records.
func NewParseError(source, message string, err error) *SourceError {
	return &SourceError{
		Source:  source,
		Class:   ErrorClassParse,
		Message: message,
		Err:     err,
	}
}

// ClassOf returns the ErrorClass carried by err, or "" if err is not a SourceError.
func ClassOf(err error) ErrorClass {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are not going to change on retry
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		// parse errors are handled by the harvest loop, not per request
		return false
	}
}
