package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramMessenger implements Messenger over the Telegram Bot API.
type TelegramMessenger struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelegramMessenger connects to the Bot API with token.
func NewTelegramMessenger(token string, httpClient *http.Client, logger *slog.Logger) (*TelegramMessenger, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	logger.Info("telegram bot ready", slog.String("username", bot.Self.UserName))
	return &TelegramMessenger{bot: bot, httpClient: httpClient, logger: logger.With(slog.String("component", "chat"))}, nil
}

func (m *TelegramMessenger) SendText(_ context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.DisableWebPagePreview = true
	if _, err := m.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func (m *TelegramMessenger) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	url, err := m.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram: resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram: download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("telegram: download: status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}
