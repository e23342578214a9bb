package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport sends every request to the test server regardless of host.
type rewriteTransport struct {
	target string
}

func (t rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	u := *r.URL
	u.Scheme = "http"
	u.Host = strings.TrimPrefix(t.target, "http://")
	r2 := r.Clone(r.Context())
	r2.URL = &u
	r2.Host = u.Host
	return http.DefaultTransport.RoundTrip(r2)
}

type sentMessage struct {
	chatID, text string
}

type fakeTelegram struct {
	sent []sentMessage
}

func newFakeTelegram(t *testing.T) (*fakeTelegram, *TelegramMessenger) {
	t.Helper()
	fake := &fakeTelegram{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok := func(result any) {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			ok(tgbotapi.User{ID: 1, IsBot: true, UserName: "gdrive_bot"})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			fake.sent = append(fake.sent, sentMessage{chatID: r.FormValue("chat_id"), text: r.FormValue("text")})
			ok(tgbotapi.Message{MessageID: 10})
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			ok(tgbotapi.File{FileID: "f1", FilePath: "documents/file_1.pdf"})
		case strings.HasPrefix(r.URL.Path, "/file/"):
			w.Header().Set("Content-Length", "4")
			_, _ = io.WriteString(w, "%PDF")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: rewriteTransport{target: srv.URL}}
	m, err := NewTelegramMessenger("123:abc", client, nil)
	require.NoError(t, err)
	return fake, m
}

func TestTelegramMessenger_SendText(t *testing.T) {
	fake, m := newFakeTelegram(t)

	require.NoError(t, m.SendText(context.Background(), "-100123", "hello"))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "-100123", fake.sent[0].chatID)
	assert.Equal(t, "hello", fake.sent[0].text)

	assert.Error(t, m.SendText(context.Background(), "not-a-number", "x"))
}

func TestTelegramMessenger_OpenFile(t *testing.T) {
	_, m := newFakeTelegram(t)

	body, size, err := m.OpenFile(context.Background(), "f1")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
	assert.Equal(t, int64(4), size)
}

func TestLogMessenger(t *testing.T) {
	m := NewLogMessenger(nil)
	assert.NoError(t, m.SendText(context.Background(), "1", "hi"))
	_, _, err := m.OpenFile(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoFiles)
}
