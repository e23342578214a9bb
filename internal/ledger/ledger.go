// Package ledger records one status entry per (group, message) upload so that
// re-delivered chat events do not upload the same file twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jun/gdrivebot/internal/kv"
	"github.com/jun/gdrivebot/internal/model"
)

// ErrNotPending is returned by Complete when the record is missing or already finished.
var ErrNotPending = errors.New("upload record is not pending")

// Key is the store key of an UploadRecord.
func Key(groupID, messageID string) string {
	return "drive_export/uploads/" + groupID + "/" + messageID
}

// Outcome is the result of an upload attempt. Err is nil on success.
type Outcome struct {
	DriveFileID string
	Err         error
}

// Ledger tracks upload attempts in the key-value store.
type Ledger struct {
	store  kv.Store
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Ledger.
func New(store kv.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, now: time.Now, logger: logger.With(slog.String("component", "ledger"))}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Get returns the record for the message, or nil when none exists.
func (l *Ledger) Get(ctx context.Context, groupID, messageID string) (*model.UploadRecord, error) {
	var rec model.UploadRecord
	if err := l.store.Get(ctx, Key(groupID, messageID), &rec); err != nil {
		switch {
		case errors.Is(err, kv.ErrNotFound):
			return nil, nil
		case errors.Is(err, kv.ErrMalformed):
			return nil, fmt.Errorf("%w: %v", model.ErrCorruptRecord, err)
		}
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Begin records a pending attempt. It returns false when the message is
// already pending or uploaded; failed attempts may be retried.
func (l *Ledger) Begin(ctx context.Context, groupID, messageID, fileName string) (bool, error) {
	existing, err := l.Get(ctx, groupID, messageID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.Status != model.UploadFailed {
		l.logger.Info("skipping duplicate upload",
			slog.String("group_id", groupID),
			slog.String("message_id", messageID),
			slog.String("status", string(existing.Status)),
		)
		return false, nil
	}

	now := l.now().UTC()
	rec := &model.UploadRecord{
		GroupID:   groupID,
		MessageID: messageID,
		Status:    model.UploadPending,
		FileName:  fileName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}

	err = l.store.PutIf(ctx, Key(groupID, messageID), rec, kv.Condition{
		IfAbsent: true,
		Equal:    map[string]any{"status": string(model.UploadFailed)},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("begin upload %s/%s: %w", groupID, messageID, err)
	}
	return true, nil
}

// Complete transitions a pending record to success or failed.
func (l *Ledger) Complete(ctx context.Context, groupID, messageID string, outcome Outcome) error {
	rec, err := l.Get(ctx, groupID, messageID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != model.UploadPending {
		return ErrNotPending
	}

	rec.UpdatedAt = l.now().UTC()
	if outcome.Err != nil {
		rec.Status = model.UploadFailed
		rec.Error = outcome.Err.Error()
		rec.DriveFileID = ""
	} else {
		rec.Status = model.UploadSuccess
		rec.DriveFileID = outcome.DriveFileID
		rec.Error = ""
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	err = l.store.PutIf(ctx, Key(groupID, messageID), rec, kv.Condition{
		Equal: map[string]any{"status": string(model.UploadPending)},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return ErrNotPending
	}
	if err != nil {
		return fmt.Errorf("complete upload %s/%s: %w", groupID, messageID, err)
	}
	return nil
}
