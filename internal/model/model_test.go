package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindCode_Validate(t *testing.T) {
	now := time.Now()
	valid := BindCode{Code: "GDRIVE-AB12C", GroupID: "g1", RequestedBy: "u1", ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(b *BindCode)
	}{
		{"missing code", func(b *BindCode) { b.Code = "" }},
		{"missing group", func(b *BindCode) { b.GroupID = "" }},
		{"missing requester", func(b *BindCode) { b.RequestedBy = "" }},
		{"missing expiry", func(b *BindCode) { b.ExpiresAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			tt.mutate(&b)
			err := b.Validate()
			assert.True(t, errors.Is(err, ErrCorruptRecord), "got %v", err)
		})
	}
}

func TestBindCode_ExpiredAndUsed(t *testing.T) {
	now := time.Now()
	b := BindCode{ExpiresAt: now}
	assert.True(t, b.Expired(now))
	assert.False(t, b.Expired(now.Add(-time.Second)))
	assert.False(t, b.Used())

	b.UsedAt = &now
	assert.True(t, b.Used())
}

func TestDriveExportConfig_EnabledInvariant(t *testing.T) {
	cfg := DriveExportConfig{GroupID: "g1"}
	require.NoError(t, cfg.Validate(), "a pending-only config is valid")

	cfg.Enabled = true
	assert.ErrorIs(t, cfg.Validate(), ErrCorruptRecord)

	cfg.OwnerIdentity = "u1"
	cfg.Credential = &Credential{RefreshTokenEnc: "enc"}
	assert.ErrorIs(t, cfg.Validate(), ErrCorruptRecord, "destination still missing")

	cfg.Destination = &Destination{FolderID: "f1", FolderName: "Chat Uploads - g1"}
	assert.NoError(t, cfg.Validate())

	cfg.Credential.RefreshTokenEnc = ""
	assert.ErrorIs(t, cfg.Validate(), ErrCorruptRecord, "nested credential is validated")
}

func TestUploadRecord_Validate(t *testing.T) {
	rec := UploadRecord{GroupID: "g1", MessageID: "m1", Status: UploadPending}
	require.NoError(t, rec.Validate())

	rec.Status = "done"
	assert.ErrorIs(t, rec.Validate(), ErrCorruptRecord)

	rec.Status = UploadSuccess
	assert.ErrorIs(t, rec.Validate(), ErrCorruptRecord, "success requires a drive file id")

	rec.DriveFileID = "file-1"
	assert.NoError(t, rec.Validate())
}
