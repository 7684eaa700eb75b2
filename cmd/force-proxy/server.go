package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/force-client/pkg/client"
	"github.com/Sternrassler/force-client/pkg/logging"
	"github.com/Sternrassler/force-client/pkg/metrics"
	"github.com/Sternrassler/force-client/pkg/query"
	"github.com/Sternrassler/force-client/pkg/record"
	"github.com/Sternrassler/force-client/pkg/session"
	"github.com/Sternrassler/force-client/pkg/usage"
)

// api is the part of the client the proxy serves.
type api interface {
	Retrieve(ctx context.Context, objectType, id string) (record.Record, error)
	Describe(ctx context.Context, objectType string) (map[string]any, error)
	NewQuery(soql string, opts query.Options) *query.Cursor
	Usage(ctx context.Context) (*usage.State, error)
	Session() session.State
}

type server struct {
	api    api
	redis  *redis.Client
	logger zerolog.Logger
}

func newServer(a api, redisClient *redis.Client) *server {
	return &server{api: a, redis: redisClient, logger: logging.NewLogger("force-proxy")}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /usage", s.usageHandler)
	mux.HandleFunc("GET /query", s.queryHandler)
	mux.HandleFunc("GET /sobjects/{type}/describe", s.describeHandler)
	mux.HandleFunc("GET /sobjects/{type}/{id}", s.retrieveHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !s.api.Session().Authenticated() {
		http.Error(w, "not authenticated", http.StatusServiceUnavailable)
		return
	}
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) usageHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.api.Usage(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if state == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"used":        state.Used,
		"limit":       state.Limit,
		"remaining":   state.Remaining(),
		"last_update": state.LastUpdate,
	})
}

func (s *server) retrieveHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.api.Retrieve(r.Context(), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) describeHandler(w http.ResponseWriter, r *http.Request) {
	desc, err := s.api.Describe(r.Context(), r.PathValue("type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// queryHandler streams records as newline-delimited JSON. Errors after the
// first record are reported as a final {"error": ...} line.
func (s *server) queryHandler(w http.ResponseWriter, r *http.Request) {
	soql := r.URL.Query().Get("q")
	if soql == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	autoFetch := true
	if raw := r.URL.Query().Get("autofetch"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid autofetch parameter", http.StatusBadRequest)
			return
		}
		autoFetch = b
	}

	cursor := s.api.NewQuery(soql, query.Options{AutoFetch: autoFetch, PageTimeout: 30 * time.Second})
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false

	for rec, err := range cursor.Records(r.Context()) {
		if err != nil {
			if !started {
				s.writeError(w, err)
				return
			}
			_ = enc.Encode(map[string]string{"error": err.Error()})
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(rec); err != nil {
			s.logger.Debug().Err(err).Msg("Client went away during query stream")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
	s.logger.Debug().Int("total", cursor.Total()).Str("state", string(cursor.State())).Msg("Query stream served")
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *client.APIError
	var amb *client.AmbiguousMatchError

	switch {
	case errors.Is(err, client.ErrNotAuthenticated):
		status = http.StatusServiceUnavailable
	case client.Classify(err) == client.ErrorClassAuth:
		status = http.StatusUnauthorized
	case client.Classify(err) == client.ErrorClassValidation, client.Classify(err) == client.ErrorClassLimit:
		status = http.StatusBadRequest
	case errors.As(err, &amb):
		status = http.StatusMultipleChoices
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		status = apiErr.StatusCode
	}

	s.logger.Debug().Err(err).Int("status_code", status).Str("error_class", string(client.Classify(err))).Msg("Request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
