// Package imagestore keeps the bytes of uploaded scan images on local disk or
// in an S3 bucket. Keys are server-assigned ("<scan_id>/<image_id><ext>") and
// never derived from client filenames.
package imagestore

import (
	"context"
	"fmt"
	"io"

	"cardscan/internal/config"
)

// Store is implemented by every image backend.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// New constructs the backend selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageLocal, "":
		return NewLocal(cfg.Paths.UploadDir, cfg.Storage.MinFreeMB, cfg.MaxUploadBytes())
	case config.StorageS3:
		return NewS3(ctx, cfg.Storage, cfg.MaxUploadBytes())
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}
