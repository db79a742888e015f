package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/models"
)

const (
	metaFilename  = "Filename"
	metaMediaType = "Media-Type"

	presignTTL = 15 * time.Minute
)

// MinioProvider stores assets in an S3-compatible bucket, one object per
// asset keyed by UUID. MIME type and filename live in object metadata so a
// later Get can rebuild the MediaInfo without a separate record.
type MinioProvider struct {
	client *minio.Client
	bucket string
}

func NewMinioProvider(cfg config.MinioConfig) (*MinioProvider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioProvider{client: client, bucket: cfg.Bucket}, nil
}

func (p *MinioProvider) Name() string {
	return config.ProviderMinio
}

func (p *MinioProvider) Upload(ctx context.Context, params UploadParams) (*models.MediaInfo, error) {
	id := uuid.NewString()

	_, err := p.client.PutObject(ctx, p.bucket, id,
		bytes.NewReader(params.Data), int64(len(params.Data)),
		minio.PutObjectOptions{
			ContentType: params.MimeType,
			UserMetadata: map[string]string{
				metaFilename:  params.FileName,
				metaMediaType: params.MediaType,
			},
		})
	if err != nil {
		return nil, fmt.Errorf("put object failed (bucket=%s, object=%s): %w", p.bucket, id, err)
	}

	url, err := p.URL(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.MediaInfo{
		ID:       id,
		Provider: p.Name(),
		MimeType: params.MimeType,
		FileName: params.FileName,
		Size:     int64(len(params.Data)),
		URL:      url,
		Status:   models.MediaStatusUploaded,
	}, nil
}

func (p *MinioProvider) Get(ctx context.Context, id string) (*models.MediaInfo, error) {
	stat, err := p.client.StatObject(ctx, p.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("stat object failed (bucket=%s, object=%s): %w", p.bucket, id, err)
	}

	url, err := p.URL(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.MediaInfo{
		ID:       id,
		Provider: p.Name(),
		MimeType: stat.ContentType,
		FileName: stat.UserMetadata[metaFilename],
		Size:     stat.Size,
		URL:      url,
		Status:   models.MediaStatusUploaded,
	}, nil
}

func (p *MinioProvider) Delete(ctx context.Context, id string) (bool, error) {
	// RemoveObject is a no-op on a missing key, so probe first to keep the
	// returned flag honest.
	if _, err := p.client.StatObject(ctx, p.bucket, id, minio.StatObjectOptions{}); err != nil {
		return false, fmt.Errorf("stat object failed (bucket=%s, object=%s): %w", p.bucket, id, err)
	}
	if err := p.client.RemoveObject(ctx, p.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("remove object failed (bucket=%s, object=%s): %w", p.bucket, id, err)
	}
	return true, nil
}

func (p *MinioProvider) URL(ctx context.Context, id string) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, id, presignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign failed (bucket=%s, object=%s): %w", p.bucket, id, err)
	}
	return u.String(), nil
}
