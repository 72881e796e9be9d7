package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"
)

// LayerCache maps a dependency fingerprint to a previously built layer archive
type LayerCache struct {
	store  Store
	prefix string
}

// NewLayerCache wraps store; keys are prefix + fingerprint + ".zip"
func NewLayerCache(store Store, prefix string) *LayerCache {
	return &LayerCache{store: store, prefix: prefix}
}

// Key returns the object key of the layer with the given fingerprint
func (c *LayerCache) Key(fingerprint string) string {
	return path.Join(c.prefix, fingerprint+".zip")
}

// Lookup returns the cached layer for fingerprint, or false when none is stored. An empty
// fingerprint never hits.
func (c *LayerCache) Lookup(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	if c == nil || c.store == nil || fingerprint == "" {
		return nil, false, nil
	}
	data, err := c.store.Get(ctx, c.Key(fingerprint))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up layer %s: %w", fingerprint, err)
	}
	log.Debug().Str("fingerprint", fingerprint).Str("provider", c.store.Name()).Msg("Layer cache hit")
	return data, true, nil
}

// Store saves a freshly built layer under fingerprint
func (c *LayerCache) Store(ctx context.Context, fingerprint string, data []byte) error {
	if c == nil || c.store == nil || fingerprint == "" {
		return nil
	}
	if err := c.store.Put(ctx, c.Key(fingerprint), data); err != nil {
		return fmt.Errorf("failed to store layer %s: %w", fingerprint, err)
	}
	return nil
}

// Cached reports whether a layer with fingerprint is stored, without downloading it
func (c *LayerCache) Cached(ctx context.Context, fingerprint string) (bool, error) {
	if c == nil || c.store == nil || fingerprint == "" {
		return false, nil
	}
	return c.store.Exists(ctx, c.Key(fingerprint))
}
