// Package export wires the bind handshake and the upload pipeline together.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jun/gdrivebot/internal/adapter"
	"github.com/jun/gdrivebot/internal/auth"
	"github.com/jun/gdrivebot/internal/binding"
	"github.com/jun/gdrivebot/internal/chat"
	"github.com/jun/gdrivebot/internal/crypto"
	"github.com/jun/gdrivebot/internal/ledger"
	"github.com/jun/gdrivebot/internal/model"
	"github.com/jun/gdrivebot/internal/state"
)

// DefaultFolderPrefix names upload folders when no prefix is configured.
const DefaultFolderPrefix = "Chat Uploads"

// DefaultStateTTL bounds how long an authorization link stays valid.
const DefaultStateTTL = 10 * time.Minute

// ErrNotConfigured is returned by Link when no redirect URL is configured.
var ErrNotConfigured = errors.New("google drive export is not configured")

// OAuth is the identity-provider client used by Service.
type OAuth interface {
	AuthCodeURL(redirectURI, state string, scopes ...string) string
	Exchange(ctx context.Context, code, redirectURI string) (auth.Tokens, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// Options holds the per-deployment settings of Service.
type Options struct {
	RedirectURL    string
	Scopes         []string
	StateTTL       time.Duration
	FolderPrefix   string
	ParentFolderID string
}

// UploadJob is a file message waiting to be exported.
type UploadJob struct {
	GroupID   string `json:"group_id"`
	MessageID string `json:"message_id"`
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Dispatcher moves upload jobs off the request path.
type Dispatcher interface {
	Dispatch(ctx context.Context, job UploadJob) error
}

// UploadResult describes what Upload did with a job.
type UploadResult int

const (
	ResultUploaded UploadResult = iota
	ResultNotBound
	ResultDuplicate
	ResultFailed
)

func (r UploadResult) String() string {
	switch r {
	case ResultUploaded:
		return "uploaded"
	case ResultNotBound:
		return "not_bound"
	case ResultDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Service implements the chat commands, the OAuth callback and uploads.
type Service struct {
	registry  *binding.Registry
	ledger    *ledger.Ledger
	codec     *state.Codec
	vault     crypto.Encryptor
	oauth     OAuth
	drives    adapter.StorageProvider
	messenger chat.Messenger
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

// Deps groups the collaborators of Service.
type Deps struct {
	Registry  *binding.Registry
	Ledger    *ledger.Ledger
	Codec     *state.Codec
	Vault     crypto.Encryptor
	OAuth     OAuth
	Drives    adapter.StorageProvider
	Messenger chat.Messenger
	Logger    *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps, opts Options) *Service {
	if opts.StateTTL <= 0 {
		opts.StateTTL = DefaultStateTTL
	}
	if opts.FolderPrefix == "" {
		opts.FolderPrefix = DefaultFolderPrefix
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{auth.DriveFileScope}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  deps.Registry,
		ledger:    deps.Ledger,
		codec:     deps.Codec,
		vault:     deps.Vault,
		oauth:     deps.OAuth,
		drives:    deps.Drives,
		messenger: deps.Messenger,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "export")),
	}
}

// SetClock replaces the time source used for state expiry.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RequestBind handles the group bind command.
func (s *Service) RequestBind(ctx context.Context, groupID, requester string) (*model.BindCode, error) {
	return s.registry.RequestBind(ctx, groupID, requester)
}

// Link handles the private link command and returns the consent URL.
func (s *Service) Link(ctx context.Context, code, requester string) (string, error) {
	if s.opts.RedirectURL == "" {
		return "", ErrNotConfigured
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", binding.ErrCodeNotFound
	}

	bc, err := s.registry.BeginAuthorization(ctx, code, requester)
	if err != nil {
		return "", err
	}
	token, err := s.codec.Sign(state.Payload{
		GroupID:   bc.GroupID,
		Requester: requester,
		Code:      bc.Code,
		Nonce:     bc.OAuthNonce,
		Exp:       s.now().Add(s.opts.StateTTL).Unix(),
	})
	if err != nil {
		return "", err
	}
	return s.oauth.AuthCodeURL(s.opts.RedirectURL, token, s.opts.Scopes...), nil
}

// Status handles the group status command.
func (s *Service) Status(ctx context.Context, groupID string) (binding.Status, error) {
	return s.registry.Status(ctx, groupID)
}

// Disable handles the group off command.
func (s *Service) Disable(ctx context.Context, groupID, requester string) error {
	return s.registry.Disable(ctx, groupID, requester)
}

// CompleteAuthorization handles the OAuth redirect. The bind code is checked
// before the authorization code is spent at the provider.
func (s *Service) CompleteAuthorization(ctx context.Context, code, stateToken string) (*model.DriveExportConfig, error) {
	p, err := s.codec.Verify(stateToken)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(slog.String("group_id", p.GroupID), slog.String("requester", p.Requester))

	bc, err := s.registry.Check(ctx, p.Code, p.Nonce, p.Requester)
	if err != nil {
		return nil, err
	}
	if bc.GroupID != p.GroupID {
		log.Warn("state group does not match bind code", slog.String("code_group_id", bc.GroupID))
		return nil, state.ErrInvalidState
	}

	tokens, err := s.oauth.Exchange(ctx, code, s.opts.RedirectURL)
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		log.Warn("token response has no refresh token")
		return nil, auth.ErrMissingRefreshToken
	}

	drive, err := s.drives.GetAdapter(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	folder, err := drive.EnsureFolder(ctx, FolderName(s.opts.FolderPrefix, p.GroupID), s.opts.ParentFolderID)
	if err != nil {
		return nil, err
	}
	email, err := drive.AccountEmail(ctx)
	if err != nil {
		log.Warn("could not read account email", slog.Any("error", err))
	}

	cfg, err := s.registry.CompleteBind(ctx, p.Code, p.Nonce, binding.Grant{
		RefreshToken: tokens.RefreshToken,
		Scopes:       tokens.Scopes(),
		AccountEmail: email,
	}, model.Destination{FolderID: folder.ID, FolderName: folder.Name})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, p.Requester, connectedPrivateMessage(p.GroupID, folder.Name))
	s.notify(ctx, p.GroupID, connectedGroupMessage(folder.Name))
	return cfg, nil
}

// Upload exports one file message to the group's Drive folder.
func (s *Service) Upload(ctx context.Context, job UploadJob) (UploadResult, error) {
	log := s.logger.With(slog.String("group_id", job.GroupID), slog.String("message_id", job.MessageID))

	cfg, err := s.registry.Config(ctx, job.GroupID)
	if err != nil {
		log.Error("failed to load drive export config", slog.Any("error", err))
		return ResultFailed, err
	}
	if cfg == nil || !cfg.Enabled {
		return ResultNotBound, nil
	}

	name := SafeFilename(job.FileName, "file-"+job.MessageID)
	accepted, err := s.ledger.Begin(ctx, job.GroupID, job.MessageID, name)
	if err != nil {
		log.Error("failed to begin upload", slog.Any("error", err))
		return ResultFailed, err
	}
	if !accepted {
		return ResultDuplicate, nil
	}

	fileID, uploadErr := s.transfer(ctx, cfg, job, name)
	if err := s.ledger.Complete(ctx, job.GroupID, job.MessageID, ledger.Outcome{DriveFileID: fileID, Err: uploadErr}); err != nil {
		log.Error("failed to record upload outcome", slog.Any("error", err))
	}

	if uploadErr != nil {
		log.Error("upload failed", slog.String("name", name), slog.Any("error", uploadErr))
		if errors.Is(uploadErr, auth.ErrInvalidCredential) || errors.Is(uploadErr, crypto.ErrDecryption) {
			s.notify(ctx, job.GroupID, reconnectMessage)
		}
		return ResultFailed, uploadErr
	}
	log.Info("file exported", slog.String("name", name), slog.String("drive_file_id", fileID))
	return ResultUploaded, nil
}

// transfer refreshes an access token and streams the attachment into Drive.
// The access token lives only for the duration of this call.
func (s *Service) transfer(ctx context.Context, cfg *model.DriveExportConfig, job UploadJob, name string) (string, error) {
	refreshToken, err := s.vault.Decrypt(ctx, cfg.Credential.RefreshTokenEnc)
	if err != nil {
		return "", err
	}
	accessToken, err := s.oauth.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	drive, err := s.drives.GetAdapter(ctx, accessToken)
	if err != nil {
		return "", err
	}

	body, size, err := s.messenger.OpenFile(ctx, job.FileID)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer body.Close()
	if size < 0 && job.Size > 0 {
		size = job.Size
	}

	return drive.ResumableUpload(ctx, adapter.UploadRequest{
		Name:     name,
		FolderID: cfg.Destination.FolderID,
		MIMEType: job.MIMEType,
		Size:     size,
		Body:     body,
	})
}

func (s *Service) notify(ctx context.Context, chatID, text string) {
	if err := s.messenger.SendText(ctx, chatID, text); err != nil {
		s.logger.Warn("failed to send notification", slog.String("chat_id", chatID), slog.Any("error", err))
	}
}
