package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

const gcsPingTimeout = 5 * time.Second

// GCS stores artifacts in a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
	logg   *logger.Logger
}

func NewGCS(ctx context.Context, cfg config.StorageConfig, logg *logger.Logger) (*GCS, error) {
	if cfg.GCSBucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	opts := []option.ClientOption{gcs.WithDisabledClientMetrics()}
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := gcs.NewGRPCClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.GCSBucket), "gcs artifact store initialized")
	}

	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.GCSBucket),
		name:   cfg.GCSBucket,
		logg:   logg,
	}, nil
}

func (g *GCS) Put(ctx context.Context, key, contentType string, data []byte) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	w := g.bucket.Object(cleaned).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %q: %w", cleaned, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs commit %q: %w", cleaned, err)
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	r, err := g.bucket.Object(cleaned).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gcs open %q: %w", cleaned, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %q: %w", cleaned, err)
	}
	return data, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := g.bucket.Object(cleaned).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %q: %w", cleaned, err)
	}
	return nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	if _, err := g.bucket.Object(cleaned).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs stat %q: %w", cleaned, err)
	}
	return true, nil
}

// Ping reads the bucket attributes.
func (g *GCS) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, gcsPingTimeout)
	defer cancel()
	if _, err := g.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %q: %w", g.name, err)
	}
	return nil
}

func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
