package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	lastForm url.Values
	respond  func(w http.ResponseWriter, form url.Values)
}

func newTokenServer(t *testing.T, respond func(w http.ResponseWriter, form url.Values)) *tokenServer {
	t.Helper()
	ts := &tokenServer{respond: respond}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ts.lastForm = r.PostForm
		ts.respond(w, r.PostForm)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) client() *OAuthClient {
	return NewOAuthClient("client-id", "client-secret", oauth2.Endpoint{
		AuthURL:   ts.URL + "/auth",
		TokenURL:  ts.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, ts.Client(), nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestAuthCodeURL(t *testing.T) {
	c := NewOAuthClient("client-id", "secret", oauth2.Endpoint{}, nil, nil)

	raw := c.AuthCodeURL("https://bot.example.com/auth/google/callback", "state-token", DriveFileScope)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://bot.example.com/auth/google/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, DriveFileScope, q.Get("scope"))
	assert.Equal(t, "state-token", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
}

func TestExchange(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "ya29.access",
			"refresh_token": "1//refresh",
			"expires_in":    3599,
			"scope":         DriveFileScope + " openid",
			"token_type":    "Bearer",
		})
	})

	tokens, err := ts.client().Exchange(context.Background(), "auth-code", "https://bot.example.com/cb")
	require.NoError(t, err)
	assert.Equal(t, "ya29.access", tokens.AccessToken)
	assert.Equal(t, "1//refresh", tokens.RefreshToken)
	assert.InDelta(t, 3599, tokens.ExpiresIn, 2)
	assert.Equal(t, []string{DriveFileScope, "openid"}, tokens.Scopes())

	assert.Equal(t, "authorization_code", ts.lastForm.Get("grant_type"))
	assert.Equal(t, "auth-code", ts.lastForm.Get("code"))
	assert.Equal(t, "https://bot.example.com/cb", ts.lastForm.Get("redirect_uri"))
	assert.Equal(t, "client-id", ts.lastForm.Get("client_id"))
	assert.Equal(t, "client-secret", ts.lastForm.Get("client_secret"))
}

func TestExchange_NoRefreshTokenIsNotAnError(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "ya29.access", "token_type": "Bearer", "expires_in": 3600})
	})

	tokens, err := ts.client().Exchange(context.Background(), "auth-code", "https://bot.example.com/cb")
	require.NoError(t, err)
	assert.Empty(t, tokens.RefreshToken)
}

func TestExchange_Failure(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Bad Request"})
	})

	_, err := ts.client().Exchange(context.Background(), "reused-code", "https://bot.example.com/cb")
	assert.ErrorIs(t, err, ErrTokenExchange)
}

func TestRefreshAccessToken(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "ya29.fresh", "token_type": "Bearer", "expires_in": 3600})
	})

	access, err := ts.client().RefreshAccessToken(context.Background(), "1//refresh")
	require.NoError(t, err)
	assert.Equal(t, "ya29.fresh", access)
	assert.Equal(t, "refresh_token", ts.lastForm.Get("grant_type"))
	assert.Equal(t, "1//refresh", ts.lastForm.Get("refresh_token"))
}

func TestRefreshAccessToken_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]any
		token   string
		wantErr error
	}{
		{"revoked", http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Token has been expired or revoked."}, "1//refresh", ErrInvalidCredential},
		{"server error", http.StatusInternalServerError, map[string]any{"error": "internal_failure"}, "1//refresh", ErrTokenExchange},
		{"empty token", http.StatusOK, nil, "  ", ErrInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := ts.client().RefreshAccessToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
