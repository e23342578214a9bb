package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/gdrivebot/internal/binding"
	"github.com/jun/gdrivebot/internal/model"
	"github.com/jun/gdrivebot/internal/state"
)

func callbackRequest(params map[string]string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/auth/google/callback",
		QueryStringParameters: params,
	}
}

func TestCallback_Success(t *testing.T) {
	auth := &fakeAuthorizer{cfg: &model.DriveExportConfig{
		GroupID:     "-100",
		Enabled:     true,
		Destination: &model.Destination{FolderID: "f1", FolderName: "Chat Uploads - -100"},
	}}
	h := NewCallbackHandler(auth, nil)

	resp, err := h.Callback(context.Background(), callbackRequest(map[string]string{"code": "c1", "state": "s1"}))
	if err != nil {
		t.Fatalf("Callback returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	if !strings.Contains(resp.Body, "Chat Uploads - -100") {
		t.Errorf("body should name the folder, got %q", resp.Body)
	}
	if auth.gotCode != "c1" || auth.gotState != "s1" {
		t.Errorf("authorizer got code=%q state=%q", auth.gotCode, auth.gotState)
	}
}

func TestCallback_MissingParams(t *testing.T) {
	auth := &fakeAuthorizer{}
	h := NewCallbackHandler(auth, nil)

	for _, params := range []map[string]string{
		nil,
		{"code": "c1"},
		{"state": "s1"},
	} {
		resp, _ := h.Callback(context.Background(), callbackRequest(params))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("params %v: expected 400, got %d", params, resp.StatusCode)
		}
	}
	if auth.callCount != 0 {
		t.Errorf("authorizer should not be called, got %d calls", auth.callCount)
	}
}

func TestCallback_ConsentDeclined(t *testing.T) {
	auth := &fakeAuthorizer{}
	h := NewCallbackHandler(auth, nil)

	resp, _ := h.Callback(context.Background(), callbackRequest(map[string]string{"error": "access_denied", "state": "s1"}))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if auth.callCount != 0 {
		t.Error("authorizer should not be called when consent was declined")
	}
}

func TestCallback_ErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantBody   string
	}{
		{state.ErrInvalidState, http.StatusBadRequest, "Invalid authorization request."},
		{fmt.Errorf("wrapped: %w", binding.ErrCodeExpired), http.StatusBadRequest, "Bind code expired"},
		{binding.ErrAlreadyBound, http.StatusBadRequest, "already connected"},
		{fmt.Errorf("dynamo unavailable"), http.StatusInternalServerError, "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := NewCallbackHandler(&fakeAuthorizer{err: tt.err}, nil)
			resp, err := h.Callback(context.Background(), callbackRequest(map[string]string{"code": "c", "state": "s"}))
			if err != nil {
				t.Fatalf("Callback returned error: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if !strings.Contains(resp.Body, tt.wantBody) {
				t.Errorf("body %q should contain %q", resp.Body, tt.wantBody)
			}
			if strings.Contains(resp.Body, "dynamo") {
				t.Errorf("internal detail leaked: %q", resp.Body)
			}
		})
	}
}
