//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/force-client/internal/testutil"
	"github.com/Sternrassler/force-client/pkg/cache"
	"github.com/Sternrassler/force-client/pkg/client"
	"github.com/Sternrassler/force-client/pkg/metrics"
	"github.com/Sternrassler/force-client/pkg/query"
	"github.com/Sternrassler/force-client/pkg/record"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newClient creates an OAuth2 client against the mock that is not yet logged in.
func newClient(t *testing.T, mock *testutil.MockAPI, redisClient *redis.Client, opts ...func(*client.Config)) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig()
	cfg.LoginURL = mock.URL()
	cfg.ClientID = "integration"
	cfg.ClientSecret = "secret"
	cfg.HTTPClient = mock.Client()
	cfg.Redis = redisClient
	for _, opt := range opts {
		opt(&cfg)
	}

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestFullRequestFlow tests the complete flow: Login → Create → Describe → Query → Destroy.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI(client.DefaultVersion)
	defer mock.Close()
	mock.SetPageSize(2)

	c := newClient(t, mock, redisClient)
	ctx := context.Background()

	t.Log("Step 1: Login")
	state, err := c.Login(ctx, "user@example.com", "password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if state.InstanceURL != mock.URL() {
		t.Errorf("InstanceURL = %s, want %s", state.InstanceURL, mock.URL())
	}

	t.Log("Step 2: Create records")
	contacts := c.SObject("Contact")
	recs := []record.Record{
		{"LastName": "One"},
		{"LastName": "Two"},
		{"LastName": "Three"},
	}
	results, err := contacts.CreateMany(ctx, recs)
	if err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	ids := make([]string, len(results))
	for i, res := range results {
		if !res.Success || res.ID == "" {
			t.Fatalf("Result %d not successful: %+v", i, res)
		}
		ids[i] = res.ID
	}

	t.Log("Step 3: Describe (cache miss, then cache hit)")
	mock.Reset()
	for range 2 {
		if _, err := contacts.Describe(ctx); err != nil {
			t.Fatalf("Describe failed: %v", err)
		}
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Describe request count = %d, want 1", mock.GetRequestCount())
	}

	t.Log("Step 4: Query across pages")
	var seen []string
	total, err := c.NewQuery("SELECT Id FROM Contact", query.Options{AutoFetch: true}).Run(ctx, query.Handlers{
		Record: func(rec record.Record, _, _ int) {
			seen = append(seen, rec["Id"].(string))
		},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if total != len(ids) || len(seen) != len(ids) {
		t.Errorf("Query total = %d (%d seen), want %d", total, len(seen), len(ids))
	}

	t.Log("Step 5: Destroy")
	if _, err := contacts.DestroyMany(ctx, ids); err != nil {
		t.Fatalf("DestroyMany failed: %v", err)
	}
	if mock.Count("Contact") != 0 {
		t.Errorf("Remaining contacts = %d, want 0", mock.Count("Contact"))
	}

	t.Log("Step 6: Usage reported")
	usageState, err := c.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usageState == nil || usageState.Limit != 15000 {
		t.Errorf("Usage = %+v, want limit 15000", usageState)
	}
}

// TestDescribeCacheHit verifies a second client reads describe metadata from Redis.
func TestDescribeCacheHit(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI(client.DefaultVersion)
	defer mock.Close()

	first := newClient(t, mock, redisClient)
	second := newClient(t, mock, redisClient)
	ctx := context.Background()

	if _, err := first.Login(ctx, "user@example.com", "password"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	second.SetSession(first.Session())
	mock.Reset()

	desc, err := first.Describe(ctx, "Account")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	cached, err := second.Describe(ctx, "Account")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}

	if mock.GetRequestCount() != 1 {
		t.Errorf("Request count = %d, want 1", mock.GetRequestCount())
	}
	if desc["name"] != cached["name"] {
		t.Errorf("Cached describe name = %v, want %v", cached["name"], desc["name"])
	}
}

// TestDescribeCacheExpiration verifies an expired entry is fetched again.
func TestDescribeCacheExpiration(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI(client.DefaultVersion)
	defer mock.Close()

	mock.SetResponse(mock.DataPath()+"/sobjects/Lead/describe", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"name":"Lead","fields":[]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})

	c := newClient(t, mock, redisClient, func(cfg *client.Config) { cfg.DescribeTTL = time.Second })
	ctx := context.Background()
	if _, err := c.Login(ctx, "user@example.com", "password"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	mock.Reset()

	if _, err := c.Describe(ctx, "Lead"); err != nil {
		t.Fatalf("Describe failed: %v", err)
	}

	key := cache.Key{Instance: mock.URL(), Version: client.DefaultVersion, Object: "Lead"}
	if n, err := redisClient.Exists(ctx, key.String()).Result(); err != nil || n != 1 {
		t.Fatalf("Expected %s in Redis (n=%d, err=%v)", key, n, err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := c.Describe(ctx, "Lead"); err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("Request count = %d, want 2 after expiry", mock.GetRequestCount())
	}
}

// TestSessionRecoveryUnderLoad expires the session while many calls are in flight.
func TestSessionRecoveryUnderLoad(t *testing.T) {
	mock := testutil.NewMockAPI(client.DefaultVersion)
	defer mock.Close()

	c := newClient(t, mock, nil)
	ctx := context.Background()
	if _, err := c.Login(ctx, "user@example.com", "password"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = mock.Seed("Account", map[string]any{"Name": "load"})
	}
	mock.ExpireSession()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := c.RetrieveMany(ctx, "Account", ids)
			if err == nil && len(recs) != len(ids) {
				err = errors.New("short result")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("RetrieveMany failed: %v", err)
		}
	}
	if mock.GetRefreshCount() != 1 {
		t.Errorf("Refresh count = %d, want 1", mock.GetRefreshCount())
	}
}

// TestNoRetry4xxErrors verifies client errors surface after a single request.
func TestNoRetry4xxErrors(t *testing.T) {
	mock := testutil.NewMockAPI(client.DefaultVersion)
	defer mock.Close()

	c := newClient(t, mock, nil)
	ctx := context.Background()
	if _, err := c.Login(ctx, "user@example.com", "password"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	mock.Reset()

	_, err := c.Retrieve(ctx, "Account", "001000000000404")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if client.Classify(err) != client.ErrorClassClient {
		t.Errorf("Class = %s, want %s", client.Classify(err), client.ErrorClassClient)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Request count = %d, want 1", mock.GetRequestCount())
	}
}

// TestServerErrorSurfaces verifies a 5xx is classified and not replayed.
func TestServerErrorSurfaces(t *testing.T) {
	mock := testutil.NewMockAPI(client.DefaultVersion)
	defer mock.Close()

	c := newClient(t, mock, nil)
	ctx := context.Background()
	if _, err := c.Login(ctx, "user@example.com", "password"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	mock.SetResponse(mock.DataPath()+"/sobjects/Account/001000000000500", testutil.MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       "upstream unavailable",
	})
	mock.Reset()

	_, err := c.Retrieve(ctx, "Account", "001000000000500")
	if client.Classify(err) != client.ErrorClassServer {
		t.Fatalf("Class = %s, want %s (err=%v)", client.Classify(err), client.ErrorClassServer, err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Request count = %d, want 1", mock.GetRequestCount())
	}
}

// TestMetricsIncremented verifies the request counter moves per call.
func TestMetricsIncremented(t *testing.T) {
	mock := testutil.NewMockAPI(client.DefaultVersion)
	defer mock.Close()

	c := newClient(t, mock, nil)
	ctx := context.Background()
	if _, err := c.Login(ctx, "user@example.com", "password"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	id := mock.Seed("Account", map[string]any{"Name": "metrics"})

	before := counterSum(t, "force_requests_total")
	if _, err := c.Retrieve(ctx, "Account", id); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if _, err := c.Retrieve(ctx, "Account", "001000000000404"); err == nil {
		t.Fatal("Expected error for unknown id")
	}
	after := counterSum(t, "force_requests_total")

	if after-before != 2 {
		t.Errorf("force_requests_total grew by %v, want 2", after-before)
	}
}

// counterSum adds up every series of a counter family.
func counterSum(t *testing.T, name string) float64 {
	t.Helper()
	families, err := metrics.Gatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}
