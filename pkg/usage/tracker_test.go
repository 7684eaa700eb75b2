package usage

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/force-client/pkg/transport"
)

func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantUsed  int
		wantLimit int
		wantErr   bool
	}{
		{name: "single entry", value: "api-usage=25/5000", wantUsed: 25, wantLimit: 5000},
		{name: "with per-app entry", value: "api-usage=25/5000, per-app-api-usage=17/250(appName=sample)", wantUsed: 25, wantLimit: 5000},
		{name: "per-app first", value: "per-app-api-usage=17/250(appName=sample), api-usage=30/15000", wantUsed: 30, wantLimit: 15000},
		{name: "missing slash", value: "api-usage=25", wantErr: true},
		{name: "invalid used", value: "api-usage=x/5000", wantErr: true},
		{name: "invalid limit", value: "api-usage=25/x", wantErr: true},
		{name: "no api-usage", value: "per-app-api-usage=17/250", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used, limit, err := ParseHeader(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if used != tt.wantUsed || limit != tt.wantLimit {
				t.Errorf("ParseHeader() = %d/%d, want %d/%d", used, limit, tt.wantUsed, tt.wantLimit)
			}
		})
	}
}

func TestUpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		shouldError bool
		wantState   bool
	}{
		{name: "valid header", header: "api-usage=4100/5000", wantState: true},
		{name: "missing header", header: ""},
		{name: "other limits only", header: "per-app-api-usage=1/10"},
		{name: "malformed header", header: "api-usage=lots", shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker("org", nil, quietLogger())
			headers := http.Header{}
			if tt.header != "" {
				headers.Set(HeaderLimitInfo, tt.header)
			}

			err := tracker.UpdateFromHeaders(context.Background(), headers)
			if tt.shouldError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			state, err := tracker.GetState(context.Background())
			if err != nil {
				t.Fatalf("GetState: %v", err)
			}
			if (state != nil) != tt.wantState {
				t.Fatalf("GetState() = %+v, want state %v", state, tt.wantState)
			}
			if state != nil && (state.Used != 4100 || state.Limit != 5000 || !state.IsWarning()) {
				t.Errorf("state = %+v", state)
			}
		})
	}
}

func TestTracker_ObservesResponses(t *testing.T) {
	tracker := NewTracker("", nil, quietLogger())
	var _ transport.Observer = tracker

	req := &transport.Request{ID: "req-1", Method: http.MethodGet, URL: "https://na1.example.com/services/data/v23.0/sobjects"}
	tracker.RequestIssued(context.Background(), req)
	tracker.ResponseReceived(context.Background(), req, &transport.Response{
		StatusCode: 200,
		Header:     http.Header{HeaderLimitInfo: []string{"api-usage=7/15000"}},
	}, time.Millisecond)

	state, _ := tracker.GetState(context.Background())
	if state == nil || state.Used != 7 || state.Limit != 15000 {
		t.Errorf("state = %+v, want 7/15000", state)
	}
}

func TestTracker_ResponseDoesNotWaitForRedis(t *testing.T) {
	// A server that accepts connections and never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})

	client := redis.NewClient(&redis.Options{Addr: ln.Addr().String(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	tracker := NewTracker("org-stalled", client, quietLogger())

	req := &transport.Request{ID: "req-1", Method: http.MethodGet, URL: "https://na1.example.com/services/data/v23.0/sobjects"}
	for i, used := range []string{"api-usage=5/15000", "api-usage=6/15000"} {
		start := time.Now()
		tracker.ResponseReceived(context.Background(), req, &transport.Response{
			StatusCode: 200,
			Header:     http.Header{HeaderLimitInfo: []string{used}},
		}, time.Millisecond)
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("response %d waited %v on Redis", i, elapsed)
		}
	}

	tracker.mu.RLock()
	local := copyState(tracker.state)
	tracker.mu.RUnlock()
	if local == nil || local.Used != 6 {
		t.Errorf("local state = %+v, want used 6", local)
	}
}

func TestTracker_GetStateReturnsCopy(t *testing.T) {
	tracker := NewTracker("org", nil, quietLogger())
	headers := http.Header{HeaderLimitInfo: []string{"api-usage=1/10"}}
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatal(err)
	}

	state, _ := tracker.GetState(context.Background())
	state.Used = 999

	again, _ := tracker.GetState(context.Background())
	if again.Used != 1 {
		t.Errorf("GetState leaked internal state, Used = %d", again.Used)
	}
}

func TestTracker_SharedThroughRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	client.FlushDB(ctx)

	writer := NewTracker("org-shared", client, quietLogger())
	reader := NewTracker("org-shared", client, quietLogger())

	if err := writer.UpdateFromHeaders(ctx, http.Header{HeaderLimitInfo: []string{"api-usage=42/5000"}}); err != nil {
		t.Fatalf("UpdateFromHeaders: %v", err)
	}

	state, err := reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state == nil || state.Used != 42 || state.Limit != 5000 {
		t.Errorf("shared state = %+v, want 42/5000", state)
	}
}

func TestTracker_ObservedResponseReachesRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	client.FlushDB(ctx)

	writer := NewTracker("org-observed", client, quietLogger())
	reader := NewTracker("org-observed", client, quietLogger())

	req := &transport.Request{ID: "req-1", Method: http.MethodGet}
	writer.ResponseReceived(ctx, req, &transport.Response{
		StatusCode: 200,
		Header:     http.Header{HeaderLimitInfo: []string{"api-usage=43/5000"}},
	}, time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		state, err := reader.GetState(ctx)
		if err == nil && state != nil && state.Used == 43 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("shared state = %+v (err %v), want used 43", state, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
