package client

import (
	"context"
	"fmt"

	"github.com/Sternrassler/force-client/pkg/session"
)

// AuthCodeURL returns the URL users visit to grant access.
func (c *Client) AuthCodeURL(state string) (string, error) {
	if c.oauth == nil {
		return "", ErrOAuth2NotConfigured
	}
	return c.oauth.AuthCodeURL(state), nil
}

// Authorize exchanges an authorization code and installs the new session.
func (c *Client) Authorize(ctx context.Context, code string) (session.State, error) {
	if c.oauth == nil {
		return session.State{}, ErrOAuth2NotConfigured
	}
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return session.State{}, fmt.Errorf("authorize: %w", err)
	}
	s := session.State{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		InstanceURL:  tok.InstanceURL,
	}
	c.gate.Replace(s)
	c.logger.Info().Str("instance_url", s.InstanceURL).Msg("Authorized")
	return s, nil
}

// Login authenticates with username and password. With an OAuth2 client id
// the password grant is used, otherwise the SOAP login handshake.
func (c *Client) Login(ctx context.Context, username, password string) (session.State, error) {
	if c.oauth != nil {
		tok, err := c.oauth.PasswordCredentials(ctx, username, password)
		if err != nil {
			return session.State{}, fmt.Errorf("login: %w", err)
		}
		s := session.State{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			InstanceURL:  tok.InstanceURL,
		}
		c.gate.Replace(s)
		c.logger.Info().Str("instance_url", s.InstanceURL).Str("flow", "oauth2").Msg("Logged in")
		return s, nil
	}

	res, err := c.soap.Login(ctx, username, password)
	if err != nil {
		return session.State{}, fmt.Errorf("login: %w", err)
	}
	s, err := res.State()
	if err != nil {
		return session.State{}, fmt.Errorf("login: %w", err)
	}
	c.gate.Replace(s)
	ev := c.logger.Info().Str("instance_url", s.InstanceURL).Str("flow", "soap")
	if s.UserInfo != nil {
		ev = ev.Str("user_id", s.UserInfo.UserID)
	}
	ev.Msg("Logged in")
	if s.PasswordExpired {
		c.logger.Warn().Msg("Password expired")
	}
	return s, nil
}

// Logout ends the session on the server and clears it locally. It requires
// the enterprise API type; otherwise auth.ErrLogoutUnsupported is returned and
// the session is kept.
func (c *Client) Logout(ctx context.Context) error {
	s := c.gate.State()
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}
	if err := c.soap.Logout(ctx, s.AccessToken); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.gate.Clear()
	c.describeCache.Purge()
	c.logger.Info().Msg("Logged out")
	return nil
}

// SetSession installs credentials obtained elsewhere.
func (c *Client) SetSession(s session.State) {
	c.gate.Replace(s)
}

// Session returns a copy of the current credentials.
func (c *Client) Session() session.State {
	return c.gate.State()
}

// Refresh forces a token refresh. Calls issued meanwhile wait for it.
func (c *Client) Refresh(ctx context.Context) error {
	return c.gate.Refresh(ctx)
}
