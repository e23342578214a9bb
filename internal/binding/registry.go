// Package binding issues and consumes single-use bind codes and owns the
// per-group Drive export configuration.
package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jun/gdrivebot/internal/auth"
	"github.com/jun/gdrivebot/internal/crypto"
	"github.com/jun/gdrivebot/internal/kv"
	"github.com/jun/gdrivebot/internal/model"
)

// DefaultCodeTTL is how long a bind code stays usable.
const DefaultCodeTTL = 10 * time.Minute

const maxCodeAttempts = 5

var (
	ErrCodeNotFound      = errors.New("bind code not found")
	ErrCodeExpired       = errors.New("bind code expired")
	ErrCodeAlreadyUsed   = errors.New("bind code already used")
	ErrRequesterMismatch = errors.New("bind code belongs to another user")
	ErrNonceMismatch     = errors.New("authorization nonce mismatch")
	ErrAlreadyBound      = errors.New("group already bound")
	ErrNotBound          = errors.New("group not bound")
	ErrNotOwner          = errors.New("only the owner can change the binding")
)

// GroupKey is the store key of a group's DriveExportConfig.
func GroupKey(groupID string) string {
	return "drive_export/groups/" + groupID
}

// CodeKey is the store key of a BindCode.
func CodeKey(code string) string {
	return "drive_export/bind_codes/" + code
}

// Grant is what a successful authorization hands over to CompleteBind.
type Grant struct {
	RefreshToken string
	Scopes       []string
	AccountEmail string
}

// Status summarises a group's binding for display.
type Status struct {
	Enabled       bool
	OwnerIdentity string
	AccountEmail  string
	Destination   *model.Destination
	// Pending is set only while the latest bind attempt is unexpired.
	Pending *model.PendingBind
}

// Registry implements the Unbound -> PendingBind -> Bound state machine.
type Registry struct {
	store    kv.Store
	vault    crypto.Encryptor
	ttl      time.Duration
	now      func() time.Time
	newNonce func() string
	logger   *slog.Logger
}

// NewRegistry creates a Registry. A zero ttl selects DefaultCodeTTL.
func NewRegistry(store kv.Store, vault crypto.Encryptor, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		vault:    vault,
		ttl:      ttl,
		now:      time.Now,
		newNonce: uuid.NewString,
		logger:   logger.With(slog.String("component", "binding")),
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Config returns the group's configuration, or nil when none exists.
func (r *Registry) Config(ctx context.Context, groupID string) (*model.DriveExportConfig, error) {
	var cfg model.DriveExportConfig
	if err := r.load(ctx, GroupKey(groupID), &cfg); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// Code returns the bind code record.
func (r *Registry) Code(ctx context.Context, code string) (*model.BindCode, error) {
	var bc model.BindCode
	if err := r.load(ctx, CodeKey(code), &bc); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &bc, nil
}

type validatable interface {
	Validate() error
}

func (r *Registry) load(ctx context.Context, key string, rec validatable) error {
	if err := r.store.Get(ctx, key, rec); err != nil {
		if errors.Is(err, kv.ErrMalformed) {
			return fmt.Errorf("%w: %v", model.ErrCorruptRecord, err)
		}
		return err
	}
	return rec.Validate()
}

// RequestBind issues a new code for groupID on behalf of requester.
func (r *Registry) RequestBind(ctx context.Context, groupID, requester string) (*model.BindCode, error) {
	cfg, err := r.Config(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.Enabled {
		return nil, ErrAlreadyBound
	}

	now := r.now().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		bc := &model.BindCode{
			Code:        code,
			GroupID:     groupID,
			RequestedBy: requester,
			CreatedAt:   now,
			ExpiresAt:   now.Add(r.ttl),
		}
		err = r.store.PutIf(ctx, CodeKey(code), bc, kv.Condition{IfAbsent: true})
		if errors.Is(err, kv.ErrConditionFailed) {
			r.logger.Debug("bind code collision", slog.String("code", code))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save bind code: %w", err)
		}

		pending := &model.DriveExportConfig{
			GroupID: groupID,
			PendingBind: &model.PendingBind{
				ActiveCode:  code,
				ExpiresAt:   bc.ExpiresAt,
				RequestedBy: requester,
			},
			UpdatedAt: now,
		}
		err = r.store.PutIf(ctx, GroupKey(groupID), pending, kv.Condition{
			IfAbsent: true,
			Equal:    map[string]any{"enabled": false},
		})
		if errors.Is(err, kv.ErrConditionFailed) {
			return nil, ErrAlreadyBound
		}
		if err != nil {
			return nil, fmt.Errorf("save pending bind: %w", err)
		}

		r.logger.Info("bind code issued",
			slog.String("group_id", groupID),
			slog.String("requested_by", requester),
			slog.Time("expires_at", bc.ExpiresAt),
		)
		return bc, nil
	}
	return nil, fmt.Errorf("could not allocate a unique bind code after %d attempts", maxCodeAttempts)
}

// checkUsable applies the checks shared by every step after issue, in the
// order NotFound, Expired, AlreadyUsed, RequesterMismatch.
func (r *Registry) checkUsable(bc *model.BindCode, requester string) error {
	switch {
	case bc.Expired(r.now()):
		return ErrCodeExpired
	case bc.Used():
		return ErrCodeAlreadyUsed
	case bc.RequestedBy != requester:
		return ErrRequesterMismatch
	}
	return nil
}

// BeginAuthorization binds an OAuth nonce to the code and returns the updated
// record. Calling it again for the same unused code returns the same nonce.
func (r *Registry) BeginAuthorization(ctx context.Context, code, requester string) (*model.BindCode, error) {
	bc, err := r.Code(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := r.checkUsable(bc, requester); err != nil {
		return nil, err
	}
	cfg, err := r.Config(ctx, bc.GroupID)
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.Enabled {
		return nil, ErrAlreadyBound
	}
	if bc.OAuthNonce != "" {
		return bc, nil
	}

	bc.OAuthNonce = r.newNonce()
	err = r.store.PutIf(ctx, CodeKey(code), bc, kv.Condition{Missing: []string{"oauth_nonce", "used_at"}})
	if errors.Is(err, kv.ErrConditionFailed) {
		// A concurrent call set the nonce first; use theirs.
		current, err := r.Code(ctx, code)
		if err != nil {
			return nil, err
		}
		if err := r.checkUsable(current, requester); err != nil {
			return nil, err
		}
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("save oauth nonce: %w", err)
	}
	return bc, nil
}

// Check verifies that code is still usable by requester with nonce.
// It has no side effects; the callback runs it before talking to the provider.
func (r *Registry) Check(ctx context.Context, code, nonce, requester string) (*model.BindCode, error) {
	bc, err := r.Code(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := r.checkUsable(bc, requester); err != nil {
		return nil, err
	}
	if bc.OAuthNonce == "" || bc.OAuthNonce != nonce {
		return nil, ErrNonceMismatch
	}
	return bc, nil
}

// CompleteBind stores the encrypted credential and destination as the group's
// active binding, then marks the code used.
func (r *Registry) CompleteBind(ctx context.Context, code, nonce string, grant Grant, dest model.Destination) (*model.DriveExportConfig, error) {
	bc, err := r.Code(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := r.checkUsable(bc, bc.RequestedBy); err != nil {
		return nil, err
	}
	if bc.OAuthNonce == "" || bc.OAuthNonce != nonce {
		return nil, ErrNonceMismatch
	}
	if grant.RefreshToken == "" {
		return nil, auth.ErrMissingRefreshToken
	}

	enc, err := r.vault.Encrypt(ctx, grant.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := r.now().UTC()
	cfg := &model.DriveExportConfig{
		GroupID:       bc.GroupID,
		Enabled:       true,
		OwnerIdentity: bc.RequestedBy,
		Credential: &model.Credential{
			RefreshTokenEnc: enc,
			Scopes:          grant.Scopes,
			AccountEmail:    grant.AccountEmail,
			CreatedAt:       now,
		},
		Destination: &dest,
		UpdatedAt:   now,
	}
	err = r.store.PutIf(ctx, GroupKey(bc.GroupID), cfg, kv.Condition{
		IfAbsent: true,
		Equal:    map[string]any{"enabled": false},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return nil, ErrAlreadyBound
	}
	if err != nil {
		return nil, fmt.Errorf("save drive export config: %w", err)
	}

	bc.UsedAt = &now
	err = r.store.PutIf(ctx, CodeKey(code), bc, kv.Condition{
		Equal:   map[string]any{"oauth_nonce": nonce},
		Missing: []string{"used_at"},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		r.logger.Warn("bind code consumed concurrently", slog.String("group_id", bc.GroupID))
		return nil, ErrCodeAlreadyUsed
	}
	if err != nil {
		// The binding is already active; the code stays unused until expiry.
		r.logger.Error("failed to mark bind code used",
			slog.String("group_id", bc.GroupID),
			slog.Any("error", err),
		)
	}

	r.logger.Info("group bound",
		slog.String("group_id", bc.GroupID),
		slog.String("owner", bc.RequestedBy),
		slog.String("folder_id", dest.FolderID),
	)
	return cfg, nil
}

// Disable removes the group's binding. Only the owner may do this.
func (r *Registry) Disable(ctx context.Context, groupID, requester string) error {
	cfg, err := r.Config(ctx, groupID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return ErrNotBound
	}
	if cfg.OwnerIdentity != requester {
		return ErrNotOwner
	}
	if err := r.store.Delete(ctx, GroupKey(groupID)); err != nil {
		return fmt.Errorf("delete drive export config: %w", err)
	}
	r.logger.Info("group unbound", slog.String("group_id", groupID), slog.String("owner", requester))
	return nil
}

// Status reports the group's binding state.
func (r *Registry) Status(ctx context.Context, groupID string) (Status, error) {
	cfg, err := r.Config(ctx, groupID)
	if err != nil || cfg == nil {
		return Status{}, err
	}
	st := Status{
		Enabled:       cfg.Enabled,
		OwnerIdentity: cfg.OwnerIdentity,
		Destination:   cfg.Destination,
	}
	if cfg.Credential != nil {
		st.AccountEmail = cfg.Credential.AccountEmail
	}
	if p := cfg.PendingBind; p != nil && r.now().Before(p.ExpiresAt) {
		st.Pending = p
	}
	return st, nil
}
