package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/force-client/pkg/batch"
)

// Common errors returned by the client.
var (
	// ErrNotAuthenticated is returned when a REST call is attempted before
	// an instance URL is known.
	ErrNotAuthenticated = errors.New("not authenticated: instance url is unknown")

	// ErrOAuth2NotConfigured is returned by OAuth2 flows without a client id.
	ErrOAuth2NotConfigured = errors.New("oauth2 client id is not configured")
)

// ErrorClass represents a classification of client errors.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassAuth represents 401 responses the session could not recover.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient represents other 4xx errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassAmbiguous represents 300 Multiple Choices.
	ErrorClassAmbiguous ErrorClass = "ambiguous"

	// ErrorClassValidation represents records rejected before sending.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassLimit represents batches over the size ceiling.
	ErrorClassLimit ErrorClass = "limit"

	// ErrorClassParse represents malformed success bodies.
	ErrorClassParse ErrorClass = "parse"
)

// Classify returns the class of err, or "" for errors of other origin.
func Classify(err error) ErrorClass {
	var c interface{ Class() ErrorClass }
	if errors.As(err, &c) {
		return c.Class()
	}
	var limit *LimitExceededError
	if errors.As(err, &limit) {
		return ErrorClassLimit
	}
	return ""
}

// TransportError is a request that produced no response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error { return e.Err }

// Class implements classification.
func (e *TransportError) Class() ErrorClass { return ErrorClassNetwork }

// APIError is an error reported by the server. When the server returns a
// list of errors only the first is kept.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Fields     []string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("api error (status %d): %s: %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Class implements classification.
func (e *APIError) Class() ErrorClass {
	if e.StatusCode >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}

// AuthError is a 401 that reached the caller because the session could not
// be recovered.
type AuthError struct {
	Err *APIError
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Err.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthError) Unwrap() error { return e.Err }

// Class implements classification.
func (e *AuthError) Class() ErrorClass { return ErrorClassAuth }

// AmbiguousMatchError is a 300 response: an external id matched several
// records.
type AmbiguousMatchError struct {
	URL string

	// Candidates lists the matching record URLs when the server sent them.
	Candidates []string
}

// Error implements the error interface.
func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("multiple records found for %s (%d candidates)", e.URL, len(e.Candidates))
}

// Class implements classification.
func (e *AmbiguousMatchError) Class() ErrorClass { return ErrorClassAmbiguous }

// ValidationError is a record rejected before any request was issued.
type ValidationError struct {
	Index   int
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record at index %d: %s", e.Index, e.Message)
}

// Class implements classification.
func (e *ValidationError) Class() ErrorClass { return ErrorClassValidation }

// ParseError is a success status whose body could not be decoded.
type ParseError struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response (status %d): %v", e.StatusCode, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error { return e.Err }

// Class implements classification.
func (e *ParseError) Class() ErrorClass { return ErrorClassParse }

// LimitExceededError is a batch rejected for its size before any request.
type LimitExceededError = batch.LimitExceededError
