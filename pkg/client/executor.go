package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/force-client/pkg/transport"
)

// HeaderRequestID carries the correlation id of one logical call.
const HeaderRequestID = "X-Request-Id"

// Descriptor describes one REST call and the shape of its result.
type Descriptor[T any] struct {
	Method string
	URL    string
	Header http.Header

	// Body is JSON-encoded when non-nil. A []byte is sent as is.
	Body any

	// NoContent is returned for 204 responses.
	NoContent T
}

// Executor issues descriptors through the session gate and interprets the
// response status.
type Executor struct {
	transport transport.Transport
	logger    zerolog.Logger
}

// NewExecutor creates an executor sending through t.
func NewExecutor(t transport.Transport, logger zerolog.Logger) *Executor {
	return &Executor{transport: t, logger: logger}
}

// Execute issues d and decodes the result into T.
func Execute[T any](ctx context.Context, e *Executor, d Descriptor[T]) (T, error) {
	var zero T

	resp, err := e.Do(ctx, d.Method, d.URL, d.Header, d.Body)
	if err != nil {
		return zero, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return d.NoContent, nil
	}

	var out T
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		perr := &ParseError{StatusCode: resp.StatusCode, Body: resp.Body, Err: err}
		recordError(perr)
		return zero, perr
	}
	return out, nil
}

// Do sends one request and returns the raw response of a successful status.
// Failures come back as the typed errors of this package.
func (e *Executor) Do(ctx context.Context, method, url string, header http.Header, body any) (*transport.Response, error) {
	resp, err := e.send(ctx, method, url, header, body)
	if err != nil {
		recordError(err)
		return nil, err
	}

	if err := interpretStatus(url, resp); err != nil {
		recordError(err)
		e.logger.Debug().
			Err(err).
			Str("method", method).
			Str("url", url).
			Int("status", resp.StatusCode).
			Msg("Request failed")
		return nil, err
	}
	return resp, nil
}

func (e *Executor) send(ctx context.Context, method, url string, header http.Header, body any) (*transport.Response, error) {
	req := &transport.Request{
		ID:     uuid.NewString(),
		Method: method,
		URL:    url,
		Header: header.Clone(),
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, req.ID)

	if body != nil {
		switch b := body.(type) {
		case []byte:
			req.Body = b
		default:
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(body); err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			req.Body = bytes.TrimRight(buf.Bytes(), "\n")
		}
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := e.transport.Send(ctx, req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: err}
	}
	return resp, nil
}

// interpretStatus maps non-success statuses to typed errors.
func interpretStatus(url string, resp *transport.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Err: parseAPIError(resp)}
	case resp.StatusCode >= 400:
		return parseAPIError(resp)
	case resp.StatusCode == http.StatusMultipleChoices:
		amb := &AmbiguousMatchError{URL: url}
		var candidates []string
		if json.Unmarshal(resp.Body, &candidates) == nil {
			amb.Candidates = candidates
		}
		return amb
	}
	return nil
}

type apiErrorBody struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Fields    []string `json:"fields"`
}

// parseAPIError takes the first entry of an error list, a single error
// object, or falls back to the raw body text.
func parseAPIError(resp *transport.Response) *APIError {
	out := &APIError{StatusCode: resp.StatusCode, Message: string(resp.Body)}

	var list []apiErrorBody
	if err := json.Unmarshal(resp.Body, &list); err == nil {
		if len(list) > 0 {
			out.Message = list[0].Message
			out.ErrorCode = list[0].ErrorCode
			out.Fields = list[0].Fields
		}
		return out
	}

	var single apiErrorBody
	if err := json.Unmarshal(resp.Body, &single); err == nil && (single.Message != "" || single.ErrorCode != "") {
		out.Message = single.Message
		out.ErrorCode = single.ErrorCode
		out.Fields = single.Fields
	}
	return out
}

func recordError(err error) {
	if class := Classify(err); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
	}
}
