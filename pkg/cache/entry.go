package cache

import (
	"net/http"
	"time"
)

// DefaultTTL applies when a response carries no usable Expires header.
const DefaultTTL = time.Hour

// Entry is one cached describe payload.
type Entry struct {
	// Data is the raw JSON body.
	Data []byte `json:"data"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// NewEntry builds an entry from a response body and headers. Only Expires
// is read: it wins when present and in the future; otherwise ttl applies,
// or DefaultTTL when ttl is zero.
func NewEntry(body []byte, header http.Header, ttl time.Duration) *Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return &Entry{
		Data:     body,
		Expires:  parseExpires(header, now.Add(ttl)),
		CachedAt: now,
	}
}

func parseExpires(header http.Header, fallback time.Time) time.Time {
	if header == nil {
		return fallback
	}
	s := header.Get("Expires")
	if s == "" {
		return fallback
	}
	expires, err := http.ParseTime(s)
	if err != nil || expires.Before(time.Now()) {
		return fallback
	}
	return expires
}
