package adapter

import (
	"context"
)

// StorageProvider defines how to get a StorageAdapter for an access token.
type StorageProvider interface {
	// GetAdapter returns a StorageAdapter acting with accessToken.
	GetAdapter(ctx context.Context, accessToken string) (StorageAdapter, error)
}
