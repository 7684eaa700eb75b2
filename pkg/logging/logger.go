// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

var levels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service, when set, is attached to every entry as "service".
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// ParseLevel validates a level name from flags or the environment.
// The empty string yields LevelInfo.
func ParseLevel(s string) (LogLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelInfo, nil
	}
	if _, ok := levels[s]; !ok {
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
	if s == "warning" {
		return LevelWarn, nil
	}
	return LogLevel(s), nil
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// parseLevel maps a level to zerolog, falling back to info.
func parseLevel(level LogLevel) zerolog.Level {
	if l, ok := levels[strings.ToLower(string(level))]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request flow (request issued, response received, request id)
//   - Describe cache operations (hit, shared request, key)
//   - Query page fetches and stream termination
//   - Batch item failures
//
// Info: Normal operation events
//   - Logins, authorizations and logouts
//   - Successful session refreshes
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - API usage above the warning threshold
//   - Refresh retry attempts
//   - Cache errors (fallback to direct request)
//   - Expired passwords reported at login
//
// Error: Error conditions requiring attention
//   - Failed session refreshes
//   - API usage above the critical threshold
//   - Configuration errors
//
// Context Fields:
//   - service: Process name (force-proxy)
//   - component: Emitting component (force-client, session-gate, oauth2, ...)
//   - request_id: Correlation id shared by all attempts of one call
//   - method, url: Request line
//   - status_code: HTTP status code
//   - duration: Request duration
//   - error_class: Error classification (network, auth, client, server, ...)
//   - instance_url: Instance the session is bound to
//   - used, limit: Reported API usage
//   - key: Describe cache key
