package storage

import (
	"context"
	"fmt"

	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/models"
)

// UploadParams carries one asset into a backend.
type UploadParams struct {
	MediaType string
	FileName  string
	MimeType  string
	Data      []byte
}

// Provider is the uniform contract every storage backend implements.
// Backend-native errors pass through with message context only; the Manager
// does not normalize them into a common taxonomy.
type Provider interface {
	Name() string
	Upload(ctx context.Context, params UploadParams) (*models.MediaInfo, error)
	Get(ctx context.Context, id string) (*models.MediaInfo, error)
	Delete(ctx context.Context, id string) (bool, error)
	URL(ctx context.Context, id string) (string, error)
}

// New constructs the backend selected by the config's provider tag.
func New(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderMinio:
		return NewMinioProvider(cfg.Minio)
	case config.ProviderLocal:
		return NewLocalProvider(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
