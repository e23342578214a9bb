package adapter

import (
	"context"
	"io"
)

// Folder identifies a folder in the user's Drive.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UploadRequest describes a single file transfer. Size is the exact byte
// count of Body; a negative Size means the length is unknown.
type UploadRequest struct {
	Name     string
	FolderID string
	MIMEType string
	Size     int64
	Body     io.Reader
}

// StorageAdapter defines the operations the exporter needs from cloud storage.
// Implementations act with a single access token and hold no refresh state.
type StorageAdapter interface {
	// EnsureFolder returns the non-trashed folder named name under parentID,
	// creating it when absent. An empty parentID means the Drive root.
	EnsureFolder(ctx context.Context, name, parentID string) (Folder, error)

	// ResumableUpload uploads req in a two-phase resumable session and returns the new file ID.
	ResumableUpload(ctx context.Context, req UploadRequest) (string, error)

	// AccountEmail returns the email address of the authorized account.
	AccountEmail(ctx context.Context) (string, error)
}
