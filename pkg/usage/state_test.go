package usage

import (
	"testing"
	"time"
)

func TestState_Thresholds(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		remaining int
		warning   bool
		critical  bool
	}{
		{name: "healthy", state: State{Used: 100, Limit: 5000}, remaining: 4900},
		{name: "warning", state: State{Used: 4000, Limit: 5000}, remaining: 1000, warning: true},
		{name: "critical", state: State{Used: 4800, Limit: 5000}, remaining: 200, critical: true},
		{name: "over limit", state: State{Used: 5100, Limit: 5000}, remaining: 0, critical: true},
		{name: "unknown limit", state: State{}, remaining: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Remaining(); got != tt.remaining {
				t.Errorf("Remaining() = %d, want %d", got, tt.remaining)
			}
			if got := tt.state.IsWarning(); got != tt.warning {
				t.Errorf("IsWarning() = %v, want %v", got, tt.warning)
			}
			if got := tt.state.IsCritical(); got != tt.critical {
				t.Errorf("IsCritical() = %v, want %v", got, tt.critical)
			}
		})
	}
}

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name       string
		lastUpdate time.Time
		maxAge     time.Duration
		expected   bool
	}{
		{name: "fresh state", lastUpdate: time.Now(), maxAge: 5 * time.Minute, expected: false},
		{name: "stale state", lastUpdate: time.Now().Add(-10 * time.Minute), maxAge: 5 * time.Minute, expected: true},
		{name: "just under max age", lastUpdate: time.Now().Add(-4 * time.Minute), maxAge: 5 * time.Minute, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{LastUpdate: tt.lastUpdate}
			if got := s.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}
