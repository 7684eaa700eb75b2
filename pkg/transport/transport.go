// Package transport defines the single-request HTTP contract the rest of the
// client is built on, plus an observing decorator used for logging and metrics.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is one outbound HTTP call.
type Request struct {
	// ID correlates all attempts of the same logical call (replays keep it).
	ID string

	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy of the request so headers can be mutated per attempt.
func (r *Request) Clone() *Request {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// Response is the fully read result of one HTTP call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs exactly one HTTP request.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Send calls f(ctx, req).
func (f Func) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransport sends requests with a net/http client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client. A nil client gets a 30s timeout default.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{client: client}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Observer receives the "request issued" and "response received" signals for
// every attempt. Observers must not mutate the request or response.
type Observer interface {
	RequestIssued(ctx context.Context, req *Request)
	ResponseReceived(ctx context.Context, req *Request, resp *Response, elapsed time.Duration)
}

// ObserverFuncs builds an Observer from optional callbacks.
type ObserverFuncs struct {
	OnRequest  func(ctx context.Context, req *Request)
	OnResponse func(ctx context.Context, req *Request, resp *Response, elapsed time.Duration)
}

// RequestIssued implements Observer.
func (o ObserverFuncs) RequestIssued(ctx context.Context, req *Request) {
	if o.OnRequest != nil {
		o.OnRequest(ctx, req)
	}
}

// ResponseReceived implements Observer.
func (o ObserverFuncs) ResponseReceived(ctx context.Context, req *Request, resp *Response, elapsed time.Duration) {
	if o.OnResponse != nil {
		o.OnResponse(ctx, req, resp, elapsed)
	}
}

type observed struct {
	next      Transport
	observers []Observer
}

// Observe decorates next so every observer sees each attempt. Requests without
// an ID get a fresh UUID.
func Observe(next Transport, observers ...Observer) Transport {
	if len(observers) == 0 {
		return next
	}
	return &observed{next: next, observers: observers}
}

func (o *observed) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	for _, obs := range o.observers {
		obs.RequestIssued(ctx, req)
	}

	start := time.Now()
	resp, err := o.next.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	for _, obs := range o.observers {
		obs.ResponseReceived(ctx, req, resp, elapsed)
	}
	return resp, nil
}
