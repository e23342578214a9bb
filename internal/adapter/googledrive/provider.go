package googledrive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jun/gdrivebot/internal/adapter"
	"golang.org/x/oauth2"
)

// Provider implements adapter.StorageProvider for Google Drive.
type Provider struct {
	opts   Options
	logger *slog.Logger
}

// NewProvider creates a new Google Drive provider.
func NewProvider(opts Options, logger *slog.Logger) *Provider {
	return &Provider{opts: opts, logger: logger}
}

// GetAdapter returns a DriveAdapter that authorizes every request with accessToken.
func (p *Provider) GetAdapter(ctx context.Context, accessToken string) (adapter.StorageAdapter, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	storage, err := NewDriveAdapter(ctx, client, p.opts, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive adapter: %w", err)
	}
	return storage, nil
}
