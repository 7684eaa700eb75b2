// Package client provides the connection to the REST API: record operations,
// query streams and describe metadata on top of session recovery, bounded
// batch dispatch and typed error handling.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/force-client/pkg/auth"
	"github.com/Sternrassler/force-client/pkg/batch"
	"github.com/Sternrassler/force-client/pkg/cache"
	"github.com/Sternrassler/force-client/pkg/session"
	"github.com/Sternrassler/force-client/pkg/transport"
	"github.com/Sternrassler/force-client/pkg/usage"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "force_requests_total",
		Help: "Total API requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "force_request_duration_seconds",
		Help:    "API request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "force_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Defaults for Config.
const (
	DefaultLoginURL        = auth.DefaultLoginURL
	DefaultVersion         = "23.0"
	DefaultDescribeTimeout = 30 * time.Second
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// Config holds the client configuration.
type Config struct {
	// LoginURL hosts the login and token endpoints.
	LoginURL string

	// Version is the API version, without the leading "v".
	Version string

	// APIType selects the SOAP flavour: auth.APITypePartner or
	// auth.APITypeEnterprise. Logout needs enterprise.
	APIType string

	// Initial session. Usually filled later by Login or Authorize.
	InstanceURL  string
	AccessToken  string
	RefreshToken string

	// OAuth2 client. Without ClientID, Login uses the SOAP handshake and
	// expired sessions are not refreshed.
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Refresher overrides the OAuth2 refresher.
	Refresher session.Refresher

	// MaxRequest is the largest batch a bulk operation accepts.
	MaxRequest int

	// MaxInFlight caps simultaneous requests of one batch. Zero means
	// MaxRequest.
	MaxInFlight int

	// HTTPClient is used for all calls. Nil uses a 30s-timeout client.
	HTTPClient *http.Client

	// Transport replaces the HTTP transport entirely, e.g. in tests.
	Transport transport.Transport

	// Observers receive the request-issued and response-received signals.
	Observers []transport.Observer

	// Session tunes the refresh protocol.
	Session session.Config

	// Redis enables the shared describe cache and shared API usage state.
	Redis *redis.Client

	// Describe cache
	DescribeCacheSize int
	DescribeTTL       time.Duration

	// DescribeTimeout bounds one describe request shared by concurrent
	// callers. It runs detached from the caller that started it.
	DescribeTimeout time.Duration

	// UsageNamespace separates API usage state of several organisations
	// sharing one Redis.
	UsageNamespace string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		LoginURL:          DefaultLoginURL,
		Version:           DefaultVersion,
		APIType:           auth.APITypePartner,
		MaxRequest:        batch.DefaultMaxItems,
		Session:           session.DefaultConfig(),
		DescribeCacheSize: cache.DefaultMaxEntries,
		DescribeTTL:       cache.DefaultTTL,
		DescribeTimeout:   DefaultDescribeTimeout,
	}
}

// Client is one connection. All state is per instance.
type Client struct {
	config Config
	logger zerolog.Logger

	// base is the observed transport without credentials.
	base transport.Transport
	gate *session.Gate
	exec *Executor

	oauth *auth.OAuth2
	soap  *auth.SOAP

	describeCache *cache.Manager
	describeGroup singleflight.Group
	usage         *usage.Tracker

	mu       sync.Mutex
	sobjects map[string]*SObject
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.APIType == "" {
		cfg.APIType = auth.APITypePartner
	}
	if cfg.MaxRequest == 0 {
		cfg.MaxRequest = batch.DefaultMaxItems
	}
	if cfg.DescribeTimeout <= 0 {
		cfg.DescribeTimeout = DefaultDescribeTimeout
	}

	if err := validateURL(cfg.LoginURL); err != nil {
		return nil, fmt.Errorf("login_url: %w", err)
	}
	if cfg.InstanceURL != "" {
		if err := validateURL(cfg.InstanceURL); err != nil {
			return nil, fmt.Errorf("instance_url: %w", err)
		}
	}
	if !versionPattern.MatchString(cfg.Version) {
		return nil, fmt.Errorf("version must look like 23.0 (got %q)", cfg.Version)
	}
	if cfg.APIType != auth.APITypePartner && cfg.APIType != auth.APITypeEnterprise {
		return nil, fmt.Errorf("api_type must be %q or %q (got %q)", auth.APITypePartner, auth.APITypeEnterprise, cfg.APIType)
	}
	if cfg.MaxRequest < 1 {
		return nil, fmt.Errorf("max_request must be >= 1 (got %d)", cfg.MaxRequest)
	}
	if cfg.MaxInFlight < 0 {
		return nil, fmt.Errorf("max_in_flight must be >= 0 (got %d)", cfg.MaxInFlight)
	}

	logger := log.With().Str("component", "force-client").Logger()

	describeCache, err := cache.NewManager(cache.Options{
		MaxEntries: cfg.DescribeCacheSize,
		Redis:      cfg.Redis,
	})
	if err != nil {
		return nil, fmt.Errorf("describe cache: %w", err)
	}

	tracker := usage.NewTracker(cfg.UsageNamespace, cfg.Redis, logger.With().Str("component", "api-usage").Logger())

	raw := cfg.Transport
	if raw == nil {
		raw = transport.NewHTTPTransport(cfg.HTTPClient)
	}
	observers := append([]transport.Observer{&requestObserver{logger: logger}, tracker}, cfg.Observers...)
	base := transport.Observe(raw, observers...)

	c := &Client{
		config:        cfg,
		logger:        logger,
		base:          base,
		describeCache: describeCache,
		usage:         tracker,
		sobjects:      make(map[string]*SObject),
	}

	if cfg.ClientID != "" {
		c.oauth = auth.NewOAuth2(auth.OAuth2Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			LoginURL:     cfg.LoginURL,
			HTTPClient:   cfg.HTTPClient,
		}, logger.With().Str("component", "oauth2").Logger())
	}
	c.soap = auth.NewSOAP(base, auth.SOAPConfig{
		LoginURL: cfg.LoginURL,
		Version:  cfg.Version,
		APIType:  cfg.APIType,
	}, logger.With().Str("component", "soap-login").Logger())

	var refresher session.Refresher
	switch {
	case cfg.Refresher != nil:
		refresher = cfg.Refresher
	case c.oauth != nil:
		refresher = c.oauth
	}

	c.gate = session.NewGate(base, refresher, session.State{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		InstanceURL:  cfg.InstanceURL,
	}, cfg.Session, logger.With().Str("component", "session-gate").Logger())
	c.exec = NewExecutor(c.gate, logger)

	return c, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute url", raw)
	}
	return nil
}

// Close releases in-memory caches. Redis is owned by the caller.
func (c *Client) Close() error {
	c.describeCache.Purge()
	return nil
}

// Version returns the configured API version.
func (c *Client) Version() string {
	return c.config.Version
}

// Usage returns the last reported API usage, or nil if none was seen.
func (c *Client) Usage(ctx context.Context) (*usage.State, error) {
	return c.usage.GetState(ctx)
}

func (c *Client) limits() batch.Limits {
	return batch.Limits{MaxItems: c.config.MaxRequest, MaxInFlight: c.config.MaxInFlight}
}

// BaseURL returns <instance>/services/data/v<version>.
func (c *Client) BaseURL() (string, error) {
	instance := c.gate.State().InstanceURL
	if instance == "" {
		return "", ErrNotAuthenticated
	}
	return strings.TrimRight(instance, "/") + "/services/data/v" + c.config.Version, nil
}

func (c *Client) sobjectURL(parts ...string) (string, error) {
	base, err := c.BaseURL()
	if err != nil {
		return "", err
	}
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return base + "/sobjects/" + strings.Join(escaped, "/"), nil
}

// requestObserver logs every attempt and records request metrics.
type requestObserver struct {
	logger zerolog.Logger
}

func (o *requestObserver) RequestIssued(ctx context.Context, req *transport.Request) {
	o.logger.Debug().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Str("url", req.URL).
		Msg("Request issued")
}

func (o *requestObserver) ResponseReceived(ctx context.Context, req *transport.Request, resp *transport.Response, elapsed time.Duration) {
	requestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	requestDuration.WithLabelValues(req.Method).Observe(elapsed.Seconds())
	o.logger.Debug().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Str("url", req.URL).
		Int("status_code", resp.StatusCode).
		Dur("duration", elapsed).
		Msg("Response received")
}
