package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/models"
)

// LocalProvider keeps assets on the local filesystem: the raw bytes in one
// file and a JSON sidecar with the metadata a Get needs to rebuild the
// MediaInfo. URLs are the asset ID joined onto a configured public base,
// assuming something else serves the root directory.
type LocalProvider struct {
	rootDir string
	baseURL string
}

type localMeta struct {
	MediaType string `json:"media_type"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

func NewLocalProvider(cfg config.LocalConfig) (*LocalProvider, error) {
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", cfg.RootDir, err)
	}
	return &LocalProvider{
		rootDir: cfg.RootDir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

func (p *LocalProvider) Name() string {
	return config.ProviderLocal
}

func (p *LocalProvider) dataPath(id string) string {
	return filepath.Join(p.rootDir, id)
}

func (p *LocalProvider) metaPath(id string) string {
	return filepath.Join(p.rootDir, id+".json")
}

func (p *LocalProvider) Upload(ctx context.Context, params UploadParams) (*models.MediaInfo, error) {
	id := uuid.NewString()

	if err := os.WriteFile(p.dataPath(id), params.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write asset %s: %w", id, err)
	}

	meta := localMeta{
		MediaType: params.MediaType,
		FileName:  params.FileName,
		MimeType:  params.MimeType,
		Size:      int64(len(params.Data)),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal asset metadata: %w", err)
	}
	if err := os.WriteFile(p.metaPath(id), raw, 0o644); err != nil {
		os.Remove(p.dataPath(id))
		return nil, fmt.Errorf("write asset metadata %s: %w", id, err)
	}

	return p.info(id, meta), nil
}

func (p *LocalProvider) Get(ctx context.Context, id string) (*models.MediaInfo, error) {
	raw, err := os.ReadFile(p.metaPath(id))
	if err != nil {
		return nil, fmt.Errorf("read asset metadata %s: %w", id, err)
	}
	var meta localMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode asset metadata %s: %w", id, err)
	}
	return p.info(id, meta), nil
}

func (p *LocalProvider) Delete(ctx context.Context, id string) (bool, error) {
	if err := os.Remove(p.dataPath(id)); err != nil {
		return false, fmt.Errorf("remove asset %s: %w", id, err)
	}
	if err := os.Remove(p.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove asset metadata %s: %w", id, err)
	}
	return true, nil
}

func (p *LocalProvider) URL(ctx context.Context, id string) (string, error) {
	if _, err := os.Stat(p.dataPath(id)); err != nil {
		return "", fmt.Errorf("stat asset %s: %w", id, err)
	}
	return p.baseURL + "/" + id, nil
}

func (p *LocalProvider) info(id string, meta localMeta) *models.MediaInfo {
	return &models.MediaInfo{
		ID:       id,
		Provider: p.Name(),
		MimeType: meta.MimeType,
		FileName: meta.FileName,
		Size:     meta.Size,
		URL:      p.baseURL + "/" + id,
		Status:   models.MediaStatusUploaded,
	}
}
