// Package artifacts stores built layer packages keyed by their dependency fingerprint so an
// unchanged dependency set is never packaged twice.
package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// ErrNotFound is returned by Get when the key has no object
var ErrNotFound = errors.New("artifact not found")

// Store is a flat key/value object store
type Store interface {
	// Name returns the provider name
	Name() string

	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New creates the store selected by the cache configuration. It returns nil when caching is
// disabled or on error.
func New(cfg *config.CacheConfig) (Store, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newStore(cfg *config.CacheConfig) (Store, error) {
	switch cfg.Provider {
	case "", config.CacheNone:
		return nil, nil
	case config.CacheLocal:
		return NewLocalStore(cfg.LocalPath)
	case config.CacheS3:
		accessKey, secretKey := cfg.S3AccessKey, cfg.S3SecretKey
		if accessKey == "" && secretKey == "" {
			creds, err := LoadCredentials(cfg.S3Endpoint)
			if err != nil {
				return nil, err
			}
			if creds == nil {
				return nil, fmt.Errorf("no S3 credentials for %s: set s3_access_key and s3_secret_key or run fluxpack cache login", cfg.S3Endpoint)
			}
			accessKey, secretKey = creds.AccessKey, creds.SecretKey
		}
		return NewS3Store(cfg.S3Endpoint, accessKey, secretKey, cfg.S3Region, cfg.S3Bucket, cfg.S3UseSSL)
	case config.CacheRedis:
		return NewRedisStore(cfg.RedisURL, cfg.RedisTTL)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}
