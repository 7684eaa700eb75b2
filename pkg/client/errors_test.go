package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	apiErr := &APIError{StatusCode: 404, ErrorCode: "NOT_FOUND", Message: "gone"}

	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{name: "transport error", err: &TransportError{Method: "GET", URL: "x", Err: errors.New("refused")}, expected: ErrorClassNetwork},
		{name: "auth error", err: &AuthError{Err: &APIError{StatusCode: 401}}, expected: ErrorClassAuth},
		{name: "client error", err: apiErr, expected: ErrorClassClient},
		{name: "server error", err: &APIError{StatusCode: 503}, expected: ErrorClassServer},
		{name: "ambiguous match", err: &AmbiguousMatchError{URL: "x"}, expected: ErrorClassAmbiguous},
		{name: "validation error", err: &ValidationError{Index: 2, Message: msgMissingID}, expected: ErrorClassValidation},
		{name: "limit exceeded", err: &LimitExceededError{Size: 11, Max: 10}, expected: ErrorClassLimit},
		{name: "parse error", err: &ParseError{StatusCode: 200, Err: errors.New("eof")}, expected: ErrorClassParse},
		{name: "wrapped client error", err: fmt.Errorf("retrieve: %w", apiErr), expected: ErrorClassClient},
		{name: "foreign error", err: errors.New("boom"), expected: ""},
		{name: "nil error", err: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "api error with code",
			err:      &APIError{StatusCode: 400, ErrorCode: "MALFORMED_QUERY", Message: "unexpected token"},
			expected: "api error (status 400): MALFORMED_QUERY: unexpected token",
		},
		{
			name:     "api error without code",
			err:      &APIError{StatusCode: 502, Message: "bad gateway"},
			expected: "api error (status 502): bad gateway",
		},
		{
			name:     "auth error",
			err:      &AuthError{Err: &APIError{StatusCode: 401, Message: "Session expired or invalid"}},
			expected: "authentication failed: Session expired or invalid",
		},
		{
			name:     "validation error",
			err:      &ValidationError{Index: 3, Message: msgMissingType},
			expected: "invalid record at index 3: No SObject Type defined in record",
		},
		{
			name:     "limit exceeded",
			err:      &LimitExceededError{Size: 11, Max: 10},
			expected: "exceeded max limit of concurrent call: 11 items, max 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")

	transportErr := &TransportError{Method: "GET", URL: "https://na1.example.com", Err: cause}
	if !errors.Is(transportErr, cause) {
		t.Error("errors.Is should reach the transport cause")
	}

	parseErr := &ParseError{StatusCode: 200, Err: cause}
	if !errors.Is(parseErr, cause) {
		t.Error("errors.Is should reach the parse cause")
	}

	inner := &APIError{StatusCode: 401, ErrorCode: "INVALID_SESSION_ID"}
	var got *APIError
	if !errors.As(&AuthError{Err: inner}, &got) || got != inner {
		t.Errorf("errors.As(AuthError) = %v, want %v", got, inner)
	}
}
