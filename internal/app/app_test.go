package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/gdrivebot/internal/adapter/memory"
	"github.com/jun/gdrivebot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID string
	text   string
}

type fakeMessenger struct {
	mu    sync.Mutex
	sent  []sentMessage
	files map[string][]byte
}

func (f *fakeMessenger) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeMessenger) OpenFile(_ context.Context, fileID string) (io.ReadCloser, int64, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, 0, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (f *fakeMessenger) last(chatID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chatID == chatID {
			return f.sent[i].text
		}
	}
	return ""
}

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"expires_in":    3600,
				"token_type":    "Bearer",
				"scope":         "https://www.googleapis.com/auth/drive.file",
			})
		case "refresh_token":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-2",
				"expires_in":   3600,
				"token_type":   "Bearer",
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tokenURL string) config.Config {
	cfg := config.Default()
	cfg.DevMode = true
	cfg.Log.Level = "debug"
	cfg.Store.Backend = config.BackendMemory
	cfg.Drive.Backend = config.BackendMemory
	cfg.Google.ClientID = "client-id"
	cfg.Google.ClientSecret = "client-secret"
	cfg.Google.RedirectBaseURL = "https://bot.example.com"
	cfg.Google.AuthURL = "https://accounts.example.com/o/oauth2/auth"
	cfg.Google.TokenURL = tokenURL
	cfg.Security.StateSigningKey = "state-signing-key"
	cfg.Security.TokenEncryptionKey = "token-encryption-key"
	return cfg
}

func telegramUpdate(t *testing.T, chatID int64, chatType string, message map[string]any) events.APIGatewayProxyRequest {
	t.Helper()
	message["message_id"] = 31
	message["date"] = 1700000000
	message["chat"] = map[string]any{"id": chatID, "type": chatType}
	message["from"] = map[string]any{"id": 42, "is_bot": false, "first_name": "Ann"}
	raw, err := json.Marshal(map[string]any{"update_id": 1, "message": message})
	require.NoError(t, err)
	return events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost, Path: WebhookPath, Body: string(raw)}
}

func commandMessage(text string) map[string]any {
	return map[string]any{
		"text":     text,
		"entities": []map[string]any{{"type": "bot_command", "offset": 0, "length": len(strings.Fields(text)[0])}},
	}
}

var codePattern = regexp.MustCompile(`GDRIVE-[A-Z0-9]{5}`)

func TestHandleRequest_BindLinkCallbackUpload(t *testing.T) {
	ctx := context.Background()
	srv := tokenServer(t)
	msgr := &fakeMessenger{files: map[string][]byte{"doc-1": []byte("%PDF-1.7 quarterly numbers")}}
	drive := memory.NewDrive("owner@example.com")

	app, err := NewApp(ctx, testConfig(srv.URL), Options{Inline: true, Messenger: msgr, Drives: drive}, slog.Default())
	require.NoError(t, err)
	defer app.Close()

	// /bind in the group
	resp, err := app.HandleRequest(ctx, telegramUpdate(t, -100500, "supergroup", commandMessage("/bind")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code := codePattern.FindString(msgr.last("-100500"))
	require.NotEmpty(t, code, "bind reply should carry a code")

	// /link in private
	resp, err = app.HandleRequest(ctx, telegramUpdate(t, 42, "private", commandMessage("/link "+code)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := msgr.last("42")
	authURL, err := url.Parse(strings.TrimSpace(reply[strings.Index(reply, "https://"):]))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", authURL.Host)
	assert.Equal(t, "https://bot.example.com/auth/google/callback", authURL.Query().Get("redirect_uri"))
	stateToken := authURL.Query().Get("state")
	require.NotEmpty(t, stateToken)

	// redirect back from Google
	resp, err = app.HandleRequest(ctx, events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  config.CallbackPath,
		QueryStringParameters: map[string]string{"code": "auth-code", "state": stateToken},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Contains(t, resp.Body, "Chat Uploads - -100500")
	assert.Contains(t, msgr.last("-100500"), "enabled")

	// the same redirect again is refused
	resp, err = app.HandleRequest(ctx, events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  config.CallbackPath,
		QueryStringParameters: map[string]string{"code": "auth-code", "state": stateToken},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// a document in the group is uploaded
	doc := map[string]any{"document": map[string]any{
		"file_id":        "doc-1",
		"file_unique_id": "u-1",
		"file_name":      "q3.pdf",
		"mime_type":      "application/pdf",
	}}
	resp, err = app.HandleRequest(ctx, telegramUpdate(t, -100500, "supergroup", doc))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	files := drive.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "q3.pdf", files[0].Name)
	assert.Equal(t, "access-2", files[0].Token, "uploads use a refreshed access token")
	assert.Equal(t, "%PDF-1.7 quarterly numbers", string(files[0].Content))

	// redelivery of the same message does not upload twice
	_, err = app.HandleRequest(ctx, telegramUpdate(t, -100500, "supergroup", doc))
	require.NoError(t, err)
	assert.Len(t, drive.Files(), 1)
}

func TestHandleRequest_Routes(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig("http://127.0.0.1:1/token"), Options{Messenger: &fakeMessenger{}}, nil)
	require.NoError(t, err)
	defer app.Close()

	resp, err := app.HandleRequest(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: HealthPath})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", resp.Body)

	resp, _ = app.HandleRequest(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/notes"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = app.HandleRequest(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: WebhookPath})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "webhook only accepts POST")

	resp, _ = app.HandleRequest(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: config.CallbackPath})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNewApp_RejectsBadVaultKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/token")
	cfg.Security.TokenEncryptionKey = ""
	_, err := NewApp(context.Background(), cfg, Options{Messenger: &fakeMessenger{}}, nil)
	assert.Error(t, err)
}

func TestOAuthEndpoint(t *testing.T) {
	assert.Empty(t, oauthEndpoint(config.GoogleConfig{}).TokenURL, "zero endpoint selects Google")

	e := oauthEndpoint(config.GoogleConfig{TokenURL: "http://localhost/token"})
	assert.Equal(t, "http://localhost/token", e.TokenURL)
	assert.Contains(t, e.AuthURL, "accounts.google.com")
}
