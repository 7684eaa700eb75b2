// Package session owns the credential of one connection and the
// suspend/resume protocol that recovers from session expiry.
//
// Every outbound call passes through a Gate. While a token refresh is in
// flight the gate is suspended: calls are parked as FIFO waiters and replayed,
// exactly once each, after the refresh settles.
package session

import "context"

// Phase is the gate's position in its two-state machine.
type Phase string

const (
	// PhaseActive lets calls through to the transport.
	PhaseActive Phase = "active"

	// PhaseSuspended parks calls until the in-flight refresh settles.
	PhaseSuspended Phase = "suspended"
)

// UserInfo is the identity block returned by the legacy login handshake.
type UserInfo struct {
	UserID           string `json:"user_id"`
	UserFullName     string `json:"user_full_name"`
	RoleID           string `json:"role_id"`
	ProfileID        string `json:"profile_id"`
	UserType         string `json:"user_type"`
	OrganizationName string `json:"organization_name"`
}

// State is the credential set of one connection.
// It is replaced as a whole on authentication and cleared on logout.
type State struct {
	// AccessToken is the opaque credential; empty means unauthenticated.
	AccessToken string

	// RefreshToken enables automatic recovery when present.
	RefreshToken string

	// InstanceURL is the scheme://host all REST URLs are built on.
	InstanceURL string

	// Fields below are only populated by the legacy login handshake.
	ServerPath        string
	MetadataServerURL string
	PasswordExpired   bool
	UserInfo          *UserInfo
}

// Authenticated reports whether an access token is present.
func (s State) Authenticated() bool {
	return s.AccessToken != ""
}

// Token is what a successful token exchange or refresh yields.
type Token struct {
	AccessToken  string
	RefreshToken string
	InstanceURL  string
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (*Token, error)

// Refresh calls f(ctx, refreshToken).
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return f(ctx, refreshToken)
}
