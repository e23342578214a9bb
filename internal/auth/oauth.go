// Package auth talks to the Google OAuth 2.0 endpoints on behalf of a binding.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DriveFileScope limits access to files the application itself creates.
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

var (
	// ErrTokenExchange covers transport failures and non-success responses from the token endpoint.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrMissingRefreshToken is returned when consent did not yield a refresh token.
	ErrMissingRefreshToken = errors.New("no refresh token in response")
	// ErrInvalidCredential means the stored refresh token is empty, revoked, or expired.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Tokens is the result of an authorization-code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
}

// Scopes splits the space-separated granted scope list.
func (t Tokens) Scopes() []string {
	return strings.Fields(t.Scope)
}

// OAuthClient handles the authorization-code and refresh-token grants.
type OAuthClient struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOAuthClient creates an OAuthClient. A zero endpoint selects Google's production endpoints.
// httpClient may be nil to use http.DefaultClient.
func NewOAuthClient(clientID, clientSecret string, endpoint oauth2.Endpoint, httpClient *http.Client, logger *slog.Logger) *OAuthClient {
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthClient{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *OAuthClient) config(redirectURI string, scopes []string) *oauth2.Config {
	cfg := *c.oauthConfig
	cfg.RedirectURL = redirectURI
	cfg.Scopes = scopes
	return &cfg
}

func (c *OAuthClient) context(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL builds the consent URL. Offline access and a forced consent
// prompt make Google return a refresh token on every grant.
func (c *OAuthClient) AuthCodeURL(redirectURI, state string, scopes ...string) string {
	return c.config(redirectURI, scopes).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for tokens. It does not require a
// refresh token to be present; callers decide whether one is mandatory.
func (c *OAuthClient) Exchange(ctx context.Context, code, redirectURI string) (Tokens, error) {
	token, err := c.config(redirectURI, nil).Exchange(c.context(ctx), code)
	if err != nil {
		c.logger.Warn("authorization code exchange failed", "error", err)
		return Tokens{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}

	tokens := Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tokens.Scope = scope
	}
	if tokens.ExpiresIn == 0 && !token.Expiry.IsZero() {
		tokens.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return tokens, nil
}

// RefreshAccessToken obtains a short-lived access token from a refresh token.
// A revoked or expired grant is reported as ErrInvalidCredential.
func (c *OAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return "", fmt.Errorf("%w: empty refresh token", ErrInvalidCredential)
	}

	source := c.config("", nil).TokenSource(c.context(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour), // Force refresh
	})
	token, err := source.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return "", fmt.Errorf("%w: %s", ErrInvalidCredential, re.ErrorDescription)
		}
		return "", fmt.Errorf("%w: refresh: %v", ErrTokenExchange, err)
	}
	return token.AccessToken, nil
}
