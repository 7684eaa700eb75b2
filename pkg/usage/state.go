// Package usage tracks the organisation's API request allowance as reported
// by the Sforce-Limit-Info response header.
package usage

import (
	"time"
)

// HeaderLimitInfo carries "api-usage=<used>/<limit>" on API responses.
const HeaderLimitInfo = "Sforce-Limit-Info"

// Thresholds as a fraction of the daily allowance.
const (
	// ThresholdWarning logs a warning once usage reaches this share.
	ThresholdWarning = 0.80

	// ThresholdCritical logs an error once usage reaches this share.
	ThresholdCritical = 0.95
)

// State is the last known API usage.
type State struct {
	// Used is the number of requests consumed in the current window.
	Used int `json:"used"`

	// Limit is the allowance for the window.
	Limit int `json:"limit"`

	// LastUpdate is when a response last reported usage.
	LastUpdate time.Time `json:"last_update"`
}

// Remaining returns the requests left, never negative.
func (s *State) Remaining() int {
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

// Ratio returns Used/Limit, or 0 when the limit is unknown.
func (s *State) Ratio() float64 {
	if s.Limit <= 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Limit)
}

// IsWarning reports usage at or above ThresholdWarning but below critical.
func (s *State) IsWarning() bool {
	return s.Ratio() >= ThresholdWarning && !s.IsCritical()
}

// IsCritical reports usage at or above ThresholdCritical.
func (s *State) IsCritical() bool {
	return s.Ratio() >= ThresholdCritical
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
