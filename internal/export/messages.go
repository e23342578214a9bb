package export

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jun/gdrivebot/internal/auth"
	"github.com/jun/gdrivebot/internal/binding"
	"github.com/jun/gdrivebot/internal/model"
	"github.com/jun/gdrivebot/internal/state"
)

const reconnectMessage = "Google Drive access for this group was revoked or expired. " +
	"The owner should send /off and then /bind to reconnect."

// BindMessage is the group reply to a successful bind request.
func BindMessage(bc *model.BindCode, now time.Time) string {
	minutes := int(bc.ExpiresAt.Sub(now).Round(time.Minute).Minutes())
	return fmt.Sprintf("Bind code: %s (valid for %d minutes).\n"+
		"Send /link %s to me in a private chat to connect your Google Drive.", bc.Code, minutes, bc.Code)
}

// LinkMessage is the private reply carrying the consent URL.
func LinkMessage(authURL string) string {
	return "Open this link to allow uploads to your Google Drive:\n" + authURL
}

// StatusMessage renders a group's binding status.
func StatusMessage(st binding.Status) string {
	var b strings.Builder
	if st.Enabled {
		b.WriteString("Google Drive export: enabled\n")
		fmt.Fprintf(&b, "Owner: %s\n", st.OwnerIdentity)
		if st.AccountEmail != "" {
			fmt.Fprintf(&b, "Account: %s\n", st.AccountEmail)
		}
		if st.Destination != nil {
			fmt.Fprintf(&b, "Folder: %s\n", st.Destination.FolderName)
		}
	} else {
		b.WriteString("Google Drive export: disabled\n")
	}
	if st.Pending != nil {
		fmt.Fprintf(&b, "Pending bind code %s expires at %s\n",
			st.Pending.ActiveCode, st.Pending.ExpiresAt.UTC().Format("15:04 UTC"))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// DisabledMessage is the group reply after off.
const DisabledMessage = "Google Drive export disabled for this group."

func connectedPrivateMessage(groupID, folder string) string {
	return fmt.Sprintf("Google Drive connected for group %s. Files will be saved to %q.", groupID, folder)
}

func connectedGroupMessage(folder string) string {
	return fmt.Sprintf("Google Drive export enabled. Files sent here will be saved to %q.", folder)
}

// CallbackSuccessMessage is the browser text after a successful callback.
func CallbackSuccessMessage(cfg *model.DriveExportConfig) string {
	return fmt.Sprintf("Google Drive connected. Files will be saved to %q. You can close this window.", cfg.Destination.FolderName)
}

var userMessages = []struct {
	err error
	msg string
}{
	{state.ErrInvalidState, "Invalid authorization request."},
	{state.ErrStateExpired, "Authorization link expired. Send /link again."},
	{binding.ErrCodeNotFound, "Bind code not found. Send /bind in the group to get a new one."},
	{binding.ErrCodeExpired, "Bind code expired. Send /bind in the group to get a new one."},
	{binding.ErrCodeAlreadyUsed, "Bind code already used."},
	{binding.ErrRequesterMismatch, "This bind code was requested by another user."},
	{binding.ErrNonceMismatch, "Authorization does not match this bind request. Send /link again."},
	{binding.ErrAlreadyBound, "This group is already connected to Google Drive. The owner must send /off first."},
	{binding.ErrNotBound, "Google Drive export is not enabled for this group."},
	{binding.ErrNotOwner, "Only the user who connected Google Drive can change this."},
	{auth.ErrMissingRefreshToken, "Google did not return a refresh token. Remove this app at " +
		"https://myaccount.google.com/permissions, then send /link again."},
	{ErrNotConfigured, "Google Drive export is not configured on this server."},
}

// UserMessage turns an error into a short reply. Errors the user cannot act
// on get a generic message; their detail is only logged.
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Something went wrong. Please try again later."
}

// CallbackStatus maps a callback error to an HTTP status.
func CallbackStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotConfigured):
		return http.StatusInternalServerError
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
