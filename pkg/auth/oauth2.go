// Package auth provides the credential collaborators of a connection: an
// OAuth2 token endpoint client and the legacy SOAP login handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/Sternrassler/force-client/pkg/session"
)

// DefaultLoginURL is the production login host.
const DefaultLoginURL = "https://login.salesforce.com"

// OAuth2Config configures the OAuth2 collaborator.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// LoginURL hosts the authorize and token endpoints.
	LoginURL string

	// HTTPClient is used for token requests. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// OAuth2 talks to the token endpoint. It implements session.Refresher.
type OAuth2 struct {
	config     *oauth2.Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOAuth2 creates the OAuth2 collaborator.
func NewOAuth2(cfg OAuth2Config, logger zerolog.Logger) *OAuth2 {
	loginURL := strings.TrimRight(cfg.LoginURL, "/")
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	return &OAuth2{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   loginURL + "/services/oauth2/authorize",
				TokenURL:  loginURL + "/services/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: cfg.HTTPClient,
		logger:     logger,
	}
}

// AuthCodeURL returns the authorization page URL for the web server flow.
func (o *OAuth2) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token.
func (o *OAuth2) Exchange(ctx context.Context, code string) (*session.Token, error) {
	tok, err := o.config.Exchange(o.context(ctx), code)
	if err != nil {
		return nil, wrapTokenError("exchange authorization code", err)
	}
	o.logger.Debug().Msg("Authorization code exchanged")
	return convertToken(tok), nil
}

// PasswordCredentials runs the username-password flow.
func (o *OAuth2) PasswordCredentials(ctx context.Context, username, password string) (*session.Token, error) {
	tok, err := o.config.PasswordCredentialsToken(o.context(ctx), username, password)
	if err != nil {
		return nil, wrapTokenError("password login", err)
	}
	o.logger.Debug().Str("username", username).Msg("Password login succeeded")
	return convertToken(tok), nil
}

// Refresh exchanges a refresh token for a new access token.
func (o *OAuth2) Refresh(ctx context.Context, refreshToken string) (*session.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}
	src := o.config.TokenSource(o.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, wrapTokenError("refresh access token", err)
	}
	return convertToken(tok), nil
}

func (o *OAuth2) context(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func convertToken(tok *oauth2.Token) *session.Token {
	out := &session.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if instance, ok := tok.Extra("instance_url").(string); ok {
		out.InstanceURL = instance
	}
	return out
}

// TokenError is a failed token endpoint call.
type TokenError struct {
	Op          string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Code, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TokenError) Unwrap() error {
	return e.Err
}

// Temporary reports failures worth retrying: network errors and 5xx.
func (e *TokenError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

func wrapTokenError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	te := &TokenError{Op: op, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			te.StatusCode = re.Response.StatusCode
		}
		te.Code = re.ErrorCode
		te.Description = re.ErrorDescription
	}
	return te
}
