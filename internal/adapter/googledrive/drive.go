package googledrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jun/gdrivebot/internal/adapter"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"

	listFields  googleapi.Field = "files(id, name)"
	fileFields  googleapi.Field = "id, name"
	aboutFields googleapi.Field = "user(emailAddress)"

	// DefaultUploadURL is the resumable upload endpoint of the Drive v3 API.
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
)

// Options overrides the Google endpoints, used by tests and proxies.
type Options struct {
	// APIEndpoint replaces the Drive v3 base path, e.g. "http://127.0.0.1:1234/drive/v3/".
	APIEndpoint string
	// UploadURL replaces DefaultUploadURL.
	UploadURL string
}

// DriveAdapter implements adapter.StorageAdapter for Google Drive.
type DriveAdapter struct {
	service    *drive.Service
	httpClient *http.Client
	uploadURL  string
	logger     *slog.Logger
}

// NewDriveAdapter creates a new DriveAdapter.
// client should be an http.Client that authorizes requests with the user's access token.
func NewDriveAdapter(ctx context.Context, client *http.Client, opts Options, logger *slog.Logger) (*DriveAdapter, error) {
	clientOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.APIEndpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.APIEndpoint))
	}
	srv, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %v", err)
	}
	uploadURL := opts.UploadURL
	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DriveAdapter{service: srv, httpClient: client, uploadURL: uploadURL, logger: logger}, nil
}

// escapeQuery escapes a literal for use inside a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// folderQuery builds the search for a non-trashed folder by exact name and parent.
func folderQuery(name, parentID string) string {
	q := []string{
		fmt.Sprintf("name = '%s'", escapeQuery(name)),
		fmt.Sprintf("mimeType = '%s'", folderMimeType),
		"trashed = false",
	}
	if parentID != "" {
		q = append(q, fmt.Sprintf("'%s' in parents", escapeQuery(parentID)))
	}
	return strings.Join(q, " and ")
}

// statusOf returns the HTTP status of a Drive API error, or 0.
func statusOf(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// EnsureFolder returns an existing folder or creates one.
func (d *DriveAdapter) EnsureFolder(ctx context.Context, name, parentID string) (adapter.Folder, error) {
	r, err := d.service.Files.List().
		Q(folderQuery(name, parentID)).
		Fields(listFields).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		d.logger.Warn("drive folder search failed", slog.Int("status", statusOf(err)), slog.Any("error", err))
		return adapter.Folder{}, fmt.Errorf("%w: search %q: %v", adapter.ErrFolderOp, name, err)
	}
	if len(r.Files) > 0 {
		return adapter.Folder{ID: r.Files[0].Id, Name: name}, nil
	}

	f := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		f.Parents = []string{parentID}
	}
	res, err := d.service.Files.Create(f).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		d.logger.Warn("drive folder create failed", slog.Int("status", statusOf(err)), slog.Any("error", err))
		return adapter.Folder{}, fmt.Errorf("%w: create %q: %v", adapter.ErrFolderOp, name, err)
	}
	d.logger.Info("created drive folder", slog.String("folder_id", res.Id), slog.String("name", name))
	return adapter.Folder{ID: res.Id, Name: name}, nil
}

// AccountEmail returns the email of the authorized user.
func (d *DriveAdapter) AccountEmail(ctx context.Context) (string, error) {
	about, err := d.service.About.Get().Fields(aboutFields).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to get account info: %v", err)
	}
	if about.User == nil {
		return "", nil
	}
	return about.User.EmailAddress, nil
}

type uploadMetadata struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
}

// ResumableUpload opens a resumable session with the file metadata and then
// sends the whole body to the session URL in a single PUT.
func (d *DriveAdapter) ResumableUpload(ctx context.Context, req adapter.UploadRequest) (string, error) {
	if req.MIMEType == "" {
		req.MIMEType = adapter.DetectMIMEType(req.Name)
	}
	if req.Size < 0 {
		buf, err := io.ReadAll(req.Body)
		if err != nil {
			return "", fmt.Errorf("%w: read body: %v", adapter.ErrUploadTransfer, err)
		}
		req.Body, req.Size = bytes.NewReader(buf), int64(len(buf))
	}

	sessionURL, err := d.openSession(ctx, req)
	if err != nil {
		return "", err
	}

	d.logger.Debug("uploading content",
		slog.String("name", req.Name),
		slog.Int64("size", req.Size),
	)

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, req.Body)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", adapter.ErrUploadTransfer, err)
	}
	put.ContentLength = req.Size
	put.Header.Set("Content-Type", req.MIMEType)

	resp, err := d.httpClient.Do(put)
	if err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrUploadTransfer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: status %d: %s", adapter.ErrUploadTransfer, resp.StatusCode, readSnippet(resp.Body))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", adapter.ErrUploadTransfer, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: response has no file id", adapter.ErrUploadTransfer)
	}

	d.logger.Info("upload complete", slog.String("file_id", created.ID), slog.String("name", req.Name))
	return created.ID, nil
}

func (d *DriveAdapter) openSession(ctx context.Context, req adapter.UploadRequest) (string, error) {
	meta := uploadMetadata{Name: req.Name}
	if req.FolderID != "" {
		meta.Parents = []string{req.FolderID}
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: marshal metadata: %v", adapter.ErrUploadInit, err)
	}

	post, err := http.NewRequestWithContext(ctx, http.MethodPost, d.uploadURL+"?uploadType=resumable&fields=id", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", adapter.ErrUploadInit, err)
	}
	post.Header.Set("Content-Type", "application/json; charset=UTF-8")
	post.Header.Set("X-Upload-Content-Type", req.MIMEType)
	post.Header.Set("X-Upload-Content-Length", strconv.FormatInt(req.Size, 10))

	resp, err := d.httpClient.Do(post)
	if err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrUploadInit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", adapter.ErrUploadInit, resp.StatusCode, readSnippet(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: no session URL in response", adapter.ErrUploadInit)
	}
	return location, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
