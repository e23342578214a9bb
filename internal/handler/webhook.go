package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jun/gdrivebot/internal/binding"
	"github.com/jun/gdrivebot/internal/chat"
	"github.com/jun/gdrivebot/internal/export"
	"github.com/jun/gdrivebot/internal/model"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Commands are the chat commands served by the export service.
type Commands interface {
	RequestBind(ctx context.Context, groupID, requester string) (*model.BindCode, error)
	Link(ctx context.Context, code, requester string) (string, error)
	Status(ctx context.Context, groupID string) (binding.Status, error)
	Disable(ctx context.Context, groupID, requester string) error
}

// WebhookHandler serves POST /webhooks/telegram.
type WebhookHandler struct {
	commands   Commands
	dispatcher export.Dispatcher
	messenger  chat.Messenger
	secret     string
	now        func() time.Time
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret disables the header check.
func NewWebhookHandler(commands Commands, dispatcher export.Dispatcher, messenger chat.Messenger, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		commands:   commands,
		dispatcher: dispatcher,
		messenger:  messenger,
		secret:     secret,
		now:        time.Now,
		logger:     logger.With(slog.String("handler", "webhook")),
	}
}

// Telegram handles one update. It answers 200 once the update parses;
// redelivery is left to the platform.
func (h *WebhookHandler) Telegram(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(header(req, SecretTokenHeader)), []byte(h.secret)) != 1 {
		return Text(http.StatusUnauthorized, "Unauthorized"), nil
	}

	raw, err := body(req)
	if err != nil {
		return Text(http.StatusBadRequest, "Invalid body"), nil
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return Text(http.StatusBadRequest, "Invalid update"), nil
	}

	h.handleUpdate(ctx, update)
	return Text(http.StatusOK, "ok"), nil
}

func (h *WebhookHandler) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := strconv.FormatInt(msg.From.ID, 10)
	inGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()

	if msg.IsCommand() {
		if reply := h.command(ctx, msg, chatID, userID, inGroup); reply != "" {
			if err := h.messenger.SendText(ctx, chatID, reply); err != nil {
				h.logger.Warn("failed to send reply", slog.String("chat_id", chatID), slog.Any("error", err))
			}
		}
		return
	}

	if !inGroup {
		return
	}
	job, ok := uploadJob(msg, chatID)
	if !ok {
		return
	}
	if err := h.dispatcher.Dispatch(ctx, job); err != nil {
		h.logger.Error("failed to dispatch upload",
			slog.String("group_id", job.GroupID),
			slog.String("message_id", job.MessageID),
			slog.Any("error", err),
		)
	}
}

func (h *WebhookHandler) command(ctx context.Context, msg *tgbotapi.Message, chatID, userID string, inGroup bool) string {
	switch msg.Command() {
	case "bind":
		if !inGroup {
			return "Use /bind in the group whose files you want to save."
		}
		bc, err := h.commands.RequestBind(ctx, chatID, userID)
		if err != nil {
			return h.failure("bind", err)
		}
		return export.BindMessage(bc, h.now())

	case "link":
		if inGroup {
			return "Send /link <code> to me in a private chat."
		}
		authURL, err := h.commands.Link(ctx, msg.CommandArguments(), userID)
		if err != nil {
			return h.failure("link", err)
		}
		return export.LinkMessage(authURL)

	case "status":
		if !inGroup {
			return "Use /status in a group."
		}
		st, err := h.commands.Status(ctx, chatID)
		if err != nil {
			return h.failure("status", err)
		}
		return export.StatusMessage(st)

	case "off":
		if !inGroup {
			return "Use /off in the group you want to disconnect."
		}
		if err := h.commands.Disable(ctx, chatID, userID); err != nil {
			return h.failure("off", err)
		}
		return export.DisabledMessage
	}
	return ""
}

func (h *WebhookHandler) failure(command string, err error) string {
	h.logger.Warn("command failed", slog.String("command", command), slog.Any("error", err))
	return export.UserMessage(err)
}

// uploadJob extracts the attachment of a group message.
func uploadJob(msg *tgbotapi.Message, chatID string) (export.UploadJob, bool) {
	job := export.UploadJob{
		GroupID:   chatID,
		MessageID: strconv.Itoa(msg.MessageID),
	}
	switch {
	case msg.Document != nil:
		job.FileID = msg.Document.FileID
		job.FileName = msg.Document.FileName
		job.MIMEType = msg.Document.MimeType
		job.Size = int64(msg.Document.FileSize)
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		job.FileID = largest.FileID
		job.FileName = fmt.Sprintf("photo-%d.jpg", msg.MessageID)
		job.MIMEType = "image/jpeg"
		job.Size = int64(largest.FileSize)
	default:
		return export.UploadJob{}, false
	}
	return job, true
}
