package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
)

// notFoundMarker is cached for accounts the directory does not know.
// Holder names are never empty, so it cannot collide with a real entry.
var notFoundMarker = []byte{0}

// DefaultTTL applies when Cached is built with a zero TTL.
const DefaultTTL = time.Minute

// Cached memoizes lookups of another directory in a domain.Cache.
// Cache failures degrade to direct lookups.
type Cached struct {
	next  Directory
	cache domain.Cache
	ttl   time.Duration
}

// NewCached wraps next with a cache.
func NewCached(next Directory, cache domain.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func cacheKey(account string) string {
	return "directory:" + ledger.Normalize(account)
}

// Lookup serves from the cache when possible.
func (c *Cached) Lookup(ctx context.Context, account string) (string, error) {
	key := cacheKey(account)

	val, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("directory cache read failed", "error", err)
	}
	if val != nil {
		if len(val) == 1 && val[0] == notFoundMarker[0] {
			return "", domain.ErrNotFound
		}
		return string(val), nil
	}

	holder, err := c.next.Lookup(ctx, account)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.store(ctx, key, notFoundMarker)
		return "", err
	case err != nil:
		return "", err
	}

	c.store(ctx, key, []byte(holder))
	return holder, nil
}

// Put writes through and invalidates the cached entry.
func (c *Cached) Put(ctx context.Context, account, holder string) error {
	if err := c.next.Put(ctx, account, holder); err != nil {
		return err
	}
	if err := c.cache.Delete(ctx, cacheKey(account)); err != nil {
		slog.Warn("directory cache invalidation failed", "error", err)
	}
	return nil
}

func (c *Cached) store(ctx context.Context, key string, val []byte) {
	if err := c.cache.Set(ctx, key, val, c.ttl); err != nil {
		slog.Warn("directory cache write failed", "error", err)
	}
}
