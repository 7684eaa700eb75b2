package cache

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{
			name:    "expired entry",
			expires: time.Now().Add(-1 * time.Hour),
			want:    true,
		},
		{
			name:    "valid entry",
			expires: time.Now().Add(1 * time.Hour),
			want:    false,
		},
		{
			name:    "just expired",
			expires: time.Now().Add(-1 * time.Second),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	if ttl := (&Entry{Expires: time.Now().Add(-time.Minute)}).TTL(); ttl != 0 {
		t.Errorf("TTL() of expired entry = %v, want 0", ttl)
	}
	ttl := (&Entry{Expires: time.Now().Add(5 * time.Minute)}).TTL()
	if ttl < 4*time.Minute+59*time.Second || ttl > 5*time.Minute {
		t.Errorf("TTL() = %v, want about 5m", ttl)
	}
}

func TestNewEntry(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	tests := []struct {
		name        string
		header      http.Header
		ttl         time.Duration
		wantExpires time.Time
	}{
		{
			name:        "fallback ttl",
			header:      http.Header{},
			ttl:         10 * time.Minute,
			wantExpires: time.Now().Add(10 * time.Minute),
		},
		{
			name:        "default ttl",
			header:      nil,
			wantExpires: time.Now().Add(DefaultTTL),
		},
		{
			name:        "expires header wins",
			header:      http.Header{"Expires": []string{future.Format(http.TimeFormat)}},
			ttl:         time.Minute,
			wantExpires: future,
		},
		{
			name:        "past expires ignored",
			header:      http.Header{"Expires": []string{time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)}},
			ttl:         time.Minute,
			wantExpires: time.Now().Add(time.Minute),
		},
		{
			name:        "invalid expires ignored",
			header:      http.Header{"Expires": []string{"soon"}},
			ttl:         time.Minute,
			wantExpires: time.Now().Add(time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := NewEntry([]byte(`{}`), tt.header, tt.ttl)
			diff := entry.Expires.Sub(tt.wantExpires)
			if diff < -2*time.Second || diff > 2*time.Second {
				t.Errorf("Expires = %v, want about %v", entry.Expires, tt.wantExpires)
			}
		})
	}

}

func TestNewEntry_StoresOnlyBodyAndTimes(t *testing.T) {
	entry := NewEntry([]byte(`{"name":"Account"}`), http.Header{
		"Etag":          []string{`"v1"`},
		"Last-Modified": []string{time.Now().UTC().Format(http.TimeFormat)},
	}, time.Minute)

	raw, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(fields) != 3 {
		t.Errorf("stored fields = %v, want data, expires and cached_at", fields)
	}
	for _, name := range []string{"data", "expires", "cached_at"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("missing field %q", name)
		}
	}
}
