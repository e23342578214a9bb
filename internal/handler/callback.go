package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/gdrivebot/internal/export"
	"github.com/jun/gdrivebot/internal/model"
)

// Authorizer completes a bind from the OAuth redirect.
type Authorizer interface {
	CompleteAuthorization(ctx context.Context, code, state string) (*model.DriveExportConfig, error)
}

// CallbackHandler serves GET /auth/google/callback.
type CallbackHandler struct {
	authorizer Authorizer
	logger     *slog.Logger
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(a Authorizer, logger *slog.Logger) *CallbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackHandler{authorizer: a, logger: logger.With(slog.String("handler", "callback"))}
}

// Callback handles the redirect back from Google.
func (h *CallbackHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := req.QueryStringParameters
	if reason := q["error"]; reason != "" {
		h.logger.Info("authorization declined", slog.String("reason", reason))
		return Text(http.StatusBadRequest, "Google authorization was not completed: "+reason), nil
	}

	code, state := q["code"], q["state"]
	if code == "" || state == "" {
		return Text(http.StatusBadRequest, "Missing code or state."), nil
	}

	cfg, err := h.authorizer.CompleteAuthorization(ctx, code, state)
	if err != nil {
		status := export.CallbackStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("callback failed", slog.Any("error", err))
		} else {
			h.logger.Warn("callback rejected", slog.Any("error", err))
		}
		return Text(status, export.UserMessage(err)), nil
	}
	return Text(http.StatusOK, export.CallbackSuccessMessage(cfg)), nil
}
