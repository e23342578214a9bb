package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrCorruptRecord is returned when a record read back from the store is structurally invalid.
var ErrCorruptRecord = errors.New("corrupt record")

var validate = validator.New()

// UploadStatus is the state of a single upload attempt.
type UploadStatus string

const (
	UploadPending UploadStatus = "pending"
	UploadSuccess UploadStatus = "success"
	UploadFailed  UploadStatus = "failed"
)

// BindCode represents a single binding attempt for a group.
// Codes are kept after use or expiry as an audit trail.
type BindCode struct {
	Code        string     `json:"code" dynamodbav:"code" validate:"required"`
	GroupID     string     `json:"group_id" dynamodbav:"group_id" validate:"required"`
	RequestedBy string     `json:"requested_by" dynamodbav:"requested_by" validate:"required"`
	CreatedAt   time.Time  `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at" dynamodbav:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty" dynamodbav:"used_at,omitempty"`
	OAuthNonce  string     `json:"oauth_nonce,omitempty" dynamodbav:"oauth_nonce,omitempty"`
}

// Expired reports whether the code can no longer be used at now.
func (b *BindCode) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Used reports whether the code has completed a binding.
func (b *BindCode) Used() bool {
	return b.UsedAt != nil
}

// Validate checks the record shape after it has been read from storage.
func (b *BindCode) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: bind code: %v", ErrCorruptRecord, err)
	}
	if b.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: bind code %s: missing expires_at", ErrCorruptRecord, b.Code)
	}
	return nil
}

// Credential holds the encrypted long-lived refresh token for a binding.
type Credential struct {
	RefreshTokenEnc string    `json:"refresh_token_enc" dynamodbav:"refresh_token_enc" validate:"required"`
	Scopes          []string  `json:"scopes" dynamodbav:"scopes"`
	AccountEmail    string    `json:"account_email,omitempty" dynamodbav:"account_email,omitempty"`
	CreatedAt       time.Time `json:"created_at" dynamodbav:"created_at"`
}

// Destination is the Drive folder uploads are written to.
type Destination struct {
	FolderID   string `json:"folder_id" dynamodbav:"folder_id" validate:"required"`
	FolderName string `json:"folder_name" dynamodbav:"folder_name" validate:"required"`
}

// PendingBind describes an in-flight bind attempt, shown by status queries.
type PendingBind struct {
	ActiveCode  string    `json:"active_code" dynamodbav:"active_code" validate:"required"`
	ExpiresAt   time.Time `json:"expires_at" dynamodbav:"expires_at"`
	RequestedBy string    `json:"requested_by" dynamodbav:"requested_by" validate:"required"`
}

// DriveExportConfig is the per-group export binding. At most one owner exists at a time.
type DriveExportConfig struct {
	GroupID       string       `json:"group_id" dynamodbav:"group_id" validate:"required"`
	Enabled       bool         `json:"enabled" dynamodbav:"enabled"`
	OwnerIdentity string       `json:"owner_identity,omitempty" dynamodbav:"owner_identity,omitempty"`
	Credential    *Credential  `json:"credential,omitempty" dynamodbav:"credential,omitempty"`
	Destination   *Destination `json:"destination,omitempty" dynamodbav:"destination,omitempty"`
	PendingBind   *PendingBind `json:"pending_bind,omitempty" dynamodbav:"pending_bind,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at" dynamodbav:"updated_at"`
}

// Validate checks the record shape and the enabled invariant:
// an enabled binding always has an owner, a credential and a destination.
func (c *DriveExportConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: drive export config: %v", ErrCorruptRecord, err)
	}
	if !c.Enabled {
		return nil
	}
	switch {
	case c.OwnerIdentity == "":
		return fmt.Errorf("%w: enabled config for %s has no owner", ErrCorruptRecord, c.GroupID)
	case c.Credential == nil:
		return fmt.Errorf("%w: enabled config for %s has no credential", ErrCorruptRecord, c.GroupID)
	case c.Destination == nil:
		return fmt.Errorf("%w: enabled config for %s has no destination", ErrCorruptRecord, c.GroupID)
	}
	return nil
}

// UploadRecord tracks one upload attempt for a (group, message) pair.
type UploadRecord struct {
	GroupID     string       `json:"group_id" dynamodbav:"group_id" validate:"required"`
	MessageID   string       `json:"message_id" dynamodbav:"message_id" validate:"required"`
	Status      UploadStatus `json:"status" dynamodbav:"status" validate:"required,oneof=pending success failed"`
	FileName    string       `json:"file_name,omitempty" dynamodbav:"file_name,omitempty"`
	DriveFileID string       `json:"drive_file_id,omitempty" dynamodbav:"drive_file_id,omitempty"`
	Error       string       `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" dynamodbav:"updated_at"`
}

// Validate checks the record shape after it has been read from storage.
func (u *UploadRecord) Validate() error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("%w: upload record: %v", ErrCorruptRecord, err)
	}
	if u.Status == UploadSuccess && u.DriveFileID == "" {
		return fmt.Errorf("%w: successful upload %s/%s has no drive file id", ErrCorruptRecord, u.GroupID, u.MessageID)
	}
	return nil
}
