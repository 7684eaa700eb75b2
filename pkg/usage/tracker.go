package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/force-client/pkg/transport"
)

// Prometheus metrics for API usage tracking.
var (
	apiUsageUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "force_api_usage_used",
		Help: "API requests consumed in the current allowance window",
	}, []string{"namespace"})

	apiUsageLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "force_api_usage_limit",
		Help: "API request allowance for the current window",
	}, []string{"namespace"})

	apiUsageParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "force_api_usage_parse_errors_total",
		Help: "Total Sforce-Limit-Info headers that could not be parsed",
	})
)

// stateTTL keeps shared state around for one allowance window.
const stateTTL = 24 * time.Hour

// mirrorTimeout bounds one Redis write made on behalf of an observed response.
const mirrorTimeout = 2 * time.Second

// Tracker records API usage from response headers. State is held in memory
// and mirrored to Redis when a client is configured, so several processes
// sharing an organisation see one figure.
type Tracker struct {
	namespace string
	redis     *redis.Client
	logger    zerolog.Logger

	mu    sync.RWMutex
	state *State

	// mirroring is set while a background Redis write is in flight.
	mirroring atomic.Bool
}

// NewTracker creates a tracker. namespace separates organisations sharing
// one Redis; redisClient may be nil.
func NewTracker(namespace string, redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	if namespace == "" {
		namespace = "default"
	}
	return &Tracker{
		namespace: namespace,
		redis:     redisClient,
		logger:    logger,
	}
}

func (t *Tracker) redisKey(field string) string {
	return fmt.Sprintf("force:api_usage:%s:%s", t.namespace, field)
}

// ParseHeader extracts used and limit from a Sforce-Limit-Info value such as
// "api-usage=25/5000, per-app-api-usage=17/250(appName=sample)".
func ParseHeader(value string) (used, limit int, err error) {
	for _, part := range strings.Split(value, ",") {
		name, counts, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name != "api-usage" {
			continue
		}
		u, l, ok := strings.Cut(counts, "/")
		if !ok {
			return 0, 0, fmt.Errorf("malformed api-usage %q", counts)
		}
		if used, err = strconv.Atoi(u); err != nil {
			return 0, 0, fmt.Errorf("parse api-usage used: %w", err)
		}
		if limit, err = strconv.Atoi(l); err != nil {
			return 0, 0, fmt.Errorf("parse api-usage limit: %w", err)
		}
		return used, limit, nil
	}
	return 0, 0, errNoUsage
}

var errNoUsage = errors.New("no api-usage entry")

// UpdateFromHeaders parses the limit header, updates state and writes it
// to Redis before returning. Responses without the header leave state
// unchanged.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, err := t.record(headers)
	if err != nil || state == nil {
		return err
	}
	return t.store(ctx, state)
}

// record updates the in-memory state from headers. It returns nil when the
// headers carry no usage figure.
func (t *Tracker) record(headers http.Header) (*State, error) {
	value := headers.Get(HeaderLimitInfo)
	if value == "" {
		return nil, nil
	}

	used, limit, err := ParseHeader(value)
	if errors.Is(err, errNoUsage) {
		return nil, nil
	}
	if err != nil {
		apiUsageParseErrorsTotal.Inc()
		return nil, fmt.Errorf("parse %s header: %w", HeaderLimitInfo, err)
	}

	state := &State{Used: used, Limit: limit, LastUpdate: time.Now()}

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	apiUsageUsed.WithLabelValues(t.namespace).Set(float64(used))
	apiUsageLimit.WithLabelValues(t.namespace).Set(float64(limit))

	switch {
	case state.IsCritical():
		t.logger.Error().Int("used", used).Int("limit", limit).Msg("API usage CRITICAL")
	case state.IsWarning():
		t.logger.Warn().Int("used", used).Int("limit", limit).Msg("API usage WARNING")
	default:
		t.logger.Debug().Int("used", used).Int("limit", limit).Msg("API usage updated")
	}
	return state, nil
}

// store writes state to Redis, if configured.
func (t *Tracker) store(ctx context.Context, state *State) error {
	if t.redis == nil {
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.redisKey("used"), state.Used, stateTTL)
	pipe.Set(ctx, t.redisKey("limit"), state.Limit, stateTTL)
	pipe.Set(ctx, t.redisKey("last_update"), lastUpdateJSON, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store api usage in redis: %w", err)
	}

	return nil
}

// GetState returns the freshest known state: memory first, then Redis when
// another process reported more recently. It returns nil when nothing is
// known yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	t.mu.RLock()
	local := t.state
	t.mu.RUnlock()

	if t.redis == nil {
		return copyState(local), nil
	}

	shared, err := t.loadShared(ctx)
	if err != nil {
		if local != nil {
			t.logger.Warn().Err(err).Msg("Failed to read shared API usage, using local state")
			return copyState(local), nil
		}
		return nil, err
	}

	if shared == nil || (local != nil && !shared.LastUpdate.After(local.LastUpdate)) {
		return copyState(local), nil
	}
	return shared, nil
}

func (t *Tracker) loadShared(ctx context.Context) (*State, error) {
	values, err := t.redis.MGet(ctx, t.redisKey("used"), t.redisKey("limit"), t.redisKey("last_update")).Result()
	if err != nil {
		return nil, fmt.Errorf("get api usage: %w", err)
	}
	if values[0] == nil || values[1] == nil {
		return nil, nil
	}

	state := &State{}
	if state.Used, err = strconv.Atoi(fmt.Sprint(values[0])); err != nil {
		return nil, fmt.Errorf("parse used: %w", err)
	}
	if state.Limit, err = strconv.Atoi(fmt.Sprint(values[1])); err != nil {
		return nil, fmt.Errorf("parse limit: %w", err)
	}
	if s, ok := values[2].(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}
	return state, nil
}

func copyState(s *State) *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// RequestIssued implements transport.Observer.
func (t *Tracker) RequestIssued(context.Context, *transport.Request) {}

// ResponseReceived implements transport.Observer by feeding response headers
// into the tracker. Memory is updated before it returns; the Redis copy is
// written in the background, at most one write at a time. Failures are
// logged, never returned to the request.
func (t *Tracker) ResponseReceived(ctx context.Context, req *transport.Request, resp *transport.Response, _ time.Duration) {
	state, err := t.record(resp.Header)
	if err != nil {
		t.logger.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to update API usage")
		return
	}
	if state == nil || t.redis == nil || !t.mirroring.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer t.mirroring.Store(false)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := t.store(ctx, state); err != nil {
			t.logger.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to share API usage")
		}
	}()
}
