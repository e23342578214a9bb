// Package memory provides an in-process Drive used in DEV_MODE and tests.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/jun/gdrivebot/internal/adapter"
)

const maxDemoUploadSize = 20 * 1024 * 1024 // 20MB, the Bot API download limit

// File is an uploaded file held by Drive.
type File struct {
	ID       string
	Name     string
	FolderID string
	MIMEType string
	Content  []byte
	Token    string
}

type folderKey struct {
	name, parent string
}

// Drive implements both adapter.StorageProvider and adapter.StorageAdapter.
// Every access token sees the same storage.
type Drive struct {
	mu      sync.RWMutex
	folders map[folderKey]adapter.Folder
	files   map[string]*File
	email   string

	// UploadErr, when set, fails every upload with this error.
	UploadErr error
}

// NewDrive creates an empty Drive whose account reports email.
func NewDrive(email string) *Drive {
	return &Drive{
		folders: make(map[folderKey]adapter.Folder),
		files:   make(map[string]*File),
		email:   email,
	}
}

// GetAdapter returns a view of the drive bound to accessToken.
func (d *Drive) GetAdapter(_ context.Context, accessToken string) (adapter.StorageAdapter, error) {
	if accessToken == "" {
		return nil, errors.New("memory: access token is required")
	}
	return &session{drive: d, token: accessToken}, nil
}

// Files returns the uploaded files.
func (d *Drive) Files() []File {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]File, 0, len(d.files))
	for _, f := range d.files {
		out = append(out, *f)
	}
	return out
}

// FolderCount returns the number of folders created.
func (d *Drive) FolderCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.folders)
}

type session struct {
	drive *Drive
	token string
}

func (s *session) EnsureFolder(_ context.Context, name, parentID string) (adapter.Folder, error) {
	d := s.drive
	d.mu.Lock()
	defer d.mu.Unlock()

	key := folderKey{name: name, parent: parentID}
	if f, ok := d.folders[key]; ok {
		return f, nil
	}
	f := adapter.Folder{ID: uuid.New().String(), Name: name}
	d.folders[key] = f
	return f, nil
}

func (s *session) ResumableUpload(_ context.Context, req adapter.UploadRequest) (string, error) {
	d := s.drive
	if d.UploadErr != nil {
		return "", d.UploadErr
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(req.Body, maxDemoUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrUploadTransfer, err)
	}
	if n > maxDemoUploadSize {
		return "", fmt.Errorf("%w: file exceeds %d bytes", adapter.ErrUploadInit, maxDemoUploadSize)
	}
	if req.Size >= 0 && n != req.Size {
		return "", fmt.Errorf("%w: declared %d bytes, got %d", adapter.ErrUploadTransfer, req.Size, n)
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = adapter.DetectMIMEType(req.Name)
	}

	f := &File{
		ID:       uuid.New().String(),
		Name:     req.Name,
		FolderID: req.FolderID,
		MIMEType: mimeType,
		Content:  buf.Bytes(),
		Token:    s.token,
	}
	d.mu.Lock()
	d.files[f.ID] = f
	d.mu.Unlock()
	return f.ID, nil
}

func (s *session) AccountEmail(context.Context) (string, error) {
	return s.drive.email, nil
}
