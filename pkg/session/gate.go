package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/force-client/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for session recovery.
var (
	sessionRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "force_session_refreshes_total",
		Help: "Total session refreshes by result",
	}, []string{"result"})

	sessionRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "force_session_refresh_duration_seconds",
		Help:    "Duration of the refresh protocol including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	sessionWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "force_session_waiters",
		Help: "Calls currently parked behind a suspended session",
	})

	sessionReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "force_session_replays_total",
		Help: "Total calls replayed after an unauthorized response",
	})
)

// AuthorizationScheme prefixes the access token in the Authorization header.
const AuthorizationScheme = "OAuth"

// ErrNoRefresher is returned by Refresh when the gate cannot refresh.
var ErrNoRefresher = errors.New("session: no refresher or refresh token configured")

// Config holds gate settings.
type Config struct {
	// MaxReplays bounds how often one call is replayed after a 401.
	MaxReplays int

	// RefreshTimeout bounds one refresh protocol run, retries included.
	RefreshTimeout time.Duration

	// Retry controls backoff for temporary refresher failures.
	Retry RetryConfig
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		MaxReplays:     3,
		RefreshTimeout: 30 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Gate guards a transport with the session's credential and recovers from
// 401 responses by refreshing the token once while parking concurrent calls.
type Gate struct {
	next      transport.Transport
	refresher Refresher
	config    Config
	logger    zerolog.Logger

	mu      sync.Mutex
	state   State
	phase   Phase
	waiters []*waiter

	// releasing is set while parked calls are handed their turn one at a
	// time. New arrivals queue behind them.
	releasing bool

	// generation changes on Replace and Clear so a refresh started against an
	// older credential set cannot overwrite a newer one.
	generation uint64

	// failedToken is the access token whose refresh last failed.
	failedToken string
	refreshErr  error
}

// waiter is one parked call. ready is closed when the call may take the
// token; the call closes done once it has taken it, or has given up.
type waiter struct {
	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newWaiter() *waiter {
	return &waiter{ready: make(chan struct{}), done: make(chan struct{})}
}

// ack hands the turn to the next waiter. Safe on nil and repeated calls.
func (w *waiter) ack() {
	if w == nil {
		return
	}
	w.once.Do(func() { close(w.done) })
}

// NewGate creates a gate in PhaseActive holding initial.
// refresher may be nil, in which case 401 responses are passed through.
func NewGate(next transport.Transport, refresher Refresher, initial State, cfg Config, logger zerolog.Logger) *Gate {
	def := DefaultConfig()
	if cfg.MaxReplays <= 0 {
		cfg.MaxReplays = def.MaxReplays
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}

	return &Gate{
		next:      next,
		refresher: refresher,
		config:    cfg,
		logger:    logger,
		state:     initial,
		phase:     PhaseActive,
	}
}

// State returns a copy of the current credential set.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Phase returns the current gate phase.
func (g *Gate) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Waiting returns the number of parked calls.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Replace swaps in a new credential set after a successful authentication.
func (g *Gate) Replace(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
	g.generation++
	g.failedToken = ""
}

// Clear drops the credential set entirely (logout).
func (g *Gate) Clear() {
	g.Replace(State{})
}

// Send implements transport.Transport. It injects the current access token,
// parks while suspended and replays after a 401 once the refresh settled.
// A 401 the gate cannot recover from is returned as a normal response.
func (g *Gate) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var turn *waiter
	replays := 0
	for {
		token, held, err := g.await(ctx, turn)
		if err != nil {
			return nil, err
		}

		attempt := req.Clone()
		if token != "" {
			attempt.Header.Set("Authorization", AuthorizationScheme+" "+token)
		}

		held.ack()
		resp, err := g.next.Send(ctx, attempt)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		if replays >= g.config.MaxReplays {
			g.logger.Warn().
				Str("request_id", req.ID).
				Int("replays", replays).
				Msg("Unauthorized after maximum replays")
			return resp, nil
		}

		replay, parked, err := g.recover(ctx, token)
		if err != nil {
			return nil, err
		}
		if !replay {
			return resp, nil
		}
		turn = parked

		replays++
		sessionReplaysTotal.Inc()
		g.logger.Debug().
			Str("request_id", req.ID).
			Int("replay", replays).
			Msg("Replaying request after session recovery")
	}
}

// Refresh runs the refresh protocol now, independent of any 401.
// Concurrent callers share one refresh.
func (g *Gate) Refresh(ctx context.Context) error {
	g.mu.Lock()
	if !g.canRefreshLocked() {
		g.mu.Unlock()
		return ErrNoRefresher
	}
	if g.phase == PhaseSuspended {
		w := g.parkLocked()
		g.mu.Unlock()
		err := g.wait(ctx, w)
		w.ack()
		return err
	}
	w := g.suspendLocked()
	g.mu.Unlock()

	err := g.wait(ctx, w)
	w.ack()
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshErr
}

// await blocks while the gate is suspended and returns the token to use.
// turn is the caller's released waiter, if any; calls without one queue
// behind parked calls that are still being released. The returned waiter
// must be acked once the token is in the request.
func (g *Gate) await(ctx context.Context, turn *waiter) (string, *waiter, error) {
	for {
		g.mu.Lock()
		if g.phase == PhaseActive && (turn != nil || !g.releasing) {
			token := g.state.AccessToken
			g.mu.Unlock()
			return token, turn, nil
		}
		w := g.parkLocked()
		g.mu.Unlock()

		turn.ack()
		turn = w
		if err := g.wait(ctx, w); err != nil {
			return "", nil, err
		}
	}
}

// recover decides what to do after a 401 for token. It returns true when the
// call should be replayed, after waiting for any refresh to settle. A
// non-nil waiter is the caller's turn in the release order.
func (g *Gate) recover(ctx context.Context, token string) (bool, *waiter, error) {
	g.mu.Lock()

	if !g.canRefreshLocked() {
		g.mu.Unlock()
		return false, nil, nil
	}

	var w *waiter
	switch {
	case g.phase == PhaseSuspended:
		w = g.parkLocked()
	case g.state.AccessToken != token:
		// The credential was replaced while this call was in flight.
		g.mu.Unlock()
		return true, nil, nil
	case token == g.failedToken:
		g.mu.Unlock()
		return false, nil, nil
	default:
		w = g.suspendLocked()
	}
	g.mu.Unlock()

	if err := g.wait(ctx, w); err != nil {
		return true, nil, err
	}
	return true, w, nil
}

// suspendLocked flips to PhaseSuspended, parks the caller first in line and
// starts the refresh. Must be called with g.mu held.
func (g *Gate) suspendLocked() *waiter {
	g.phase = PhaseSuspended
	w := g.parkLocked()

	g.logger.Info().
		Int("waiters", len(g.waiters)).
		Msg("Session suspended, refreshing access token")

	go g.refresh(g.state.RefreshToken, g.state.AccessToken, g.generation)
	return w
}

// refresh exchanges the refresh token and releases every waiter in FIFO
// order regardless of the outcome.
func (g *Gate) refresh(refreshToken, staleToken string, generation uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.RefreshTimeout)
	defer cancel()

	start := time.Now()
	var token *Token
	err := retryWithBackoff(ctx, g.config.Retry, g.logger, func() error {
		var err error
		token, err = g.refresher.Refresh(ctx, refreshToken)
		return err
	})
	if err == nil && (token == nil || token.AccessToken == "") {
		err = errors.New("session: refresher returned no access token")
	}
	sessionRefreshDuration.Observe(time.Since(start).Seconds())

	g.mu.Lock()
	switch {
	case generation != g.generation:
		sessionRefreshesTotal.WithLabelValues("discarded").Inc()
		g.logger.Debug().Msg("Discarding refresh result for replaced session")
	case err != nil:
		g.failedToken = staleToken
		g.refreshErr = err
		sessionRefreshesTotal.WithLabelValues("failure").Inc()
		g.logger.Error().Err(err).Msg("Access token refresh failed")
	default:
		g.state.AccessToken = token.AccessToken
		g.refreshErr = nil
		if token.InstanceURL != "" {
			g.state.InstanceURL = token.InstanceURL
		}
		if token.RefreshToken != "" {
			g.state.RefreshToken = token.RefreshToken
		}
		sessionRefreshesTotal.WithLabelValues("success").Inc()
		g.logger.Info().
			Str("instance_url", g.state.InstanceURL).
			Dur("duration", time.Since(start)).
			Msg("Access token refreshed")
	}

	g.phase = PhaseActive
	if g.releasing {
		// The running release loop picks up the queue.
		g.mu.Unlock()
		return
	}
	g.releasing = true
	g.mu.Unlock()

	g.release()
}

// release hands the token to parked calls one at a time, in arrival order.
// Each call must ack before the next one is released, so replays reach the
// transport in the order the calls were parked. It stops early when a new
// refresh suspends the gate; that refresh resumes the queue.
func (g *Gate) release() {
	for {
		g.mu.Lock()
		if g.phase == PhaseSuspended || len(g.waiters) == 0 {
			g.releasing = false
			g.mu.Unlock()
			return
		}
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()

		sessionWaiters.Dec()
		close(w.ready)
		<-w.done
	}
}

func (g *Gate) canRefreshLocked() bool {
	return g.refresher != nil && g.state.RefreshToken != ""
}

// parkLocked appends a waiter. Must be called with g.mu held.
func (g *Gate) parkLocked() *waiter {
	w := newWaiter()
	g.waiters = append(g.waiters, w)
	sessionWaiters.Inc()
	return w
}

// wait blocks until w is released or ctx ends. A cancelled waiter leaves
// the queue without disturbing the order of the others, and acks so a
// release already under way moves on to the next call.
func (g *Gate) wait(ctx context.Context, w *waiter) error {
	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	g.mu.Lock()
	for i, q := range g.waiters {
		if q == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			sessionWaiters.Dec()
			break
		}
	}
	g.mu.Unlock()

	w.ack()
	return ctx.Err()
}
