package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("storage: object not found")

// Store persists rendered certificate artifacts by key.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Pinger is implemented by drivers that can check their backend during readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, logg *logger.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case config.StorageDriverLocal:
		return NewLocal(cfg.LocalDir)
	case config.StorageDriverGCS:
		return NewGCS(ctx, cfg, logg)
	case config.StorageDriverS3:
		return NewS3(ctx, cfg, logg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// CleanKey normalizes an object key and rejects keys that escape the store root.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("storage: key is required")
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(trimmed, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", fmt.Errorf("storage: key %q escapes the store root", key)
		}
	}
	return cleaned, nil
}
