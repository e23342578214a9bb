// Package chat is the bot's connection to the chat platform.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// ErrNoFiles is returned by messengers that cannot download attachments.
var ErrNoFiles = errors.New("chat: file download not supported")

// Messenger sends replies and downloads attachments.
type Messenger interface {
	// SendText posts text to chatID.
	SendText(ctx context.Context, chatID, text string) error
	// OpenFile streams an attachment. The size is -1 when unknown.
	OpenFile(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}

// LogMessenger writes outgoing messages to the log. Used in DEV_MODE without a bot token.
type LogMessenger struct {
	logger *slog.Logger
}

// NewLogMessenger creates a LogMessenger.
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessenger{logger: logger.With(slog.String("component", "chat"))}
}

func (m *LogMessenger) SendText(_ context.Context, chatID, text string) error {
	m.logger.Info("outgoing message", slog.String("chat_id", chatID), slog.String("text", text))
	return nil
}

func (m *LogMessenger) OpenFile(context.Context, string) (io.ReadCloser, int64, error) {
	return nil, 0, ErrNoFiles
}
