package geo

import (
	"context"
	"log/slog"

	"github.com/freedomfin/fireroute/pkg/models"
)

// CacheStore is the persistence surface the DB-backed cache needs.
// *store.GeoCacheStore satisfies it.
type CacheStore interface {
	Get(ctx context.Context, query string) (*models.GeocodingCacheEntry, error)
	Put(ctx context.Context, e *models.GeocodingCacheEntry) error
}

// DBCache adapts the geocoding_cache table to the geocoder's Cache. Lookup
// errors are treated as misses; the ladder then just pays one provider call.
type DBCache struct {
	store  CacheStore
	logger *slog.Logger
}

// NewDBCache wraps a cache store.
func NewDBCache(store CacheStore, logger *slog.Logger) *DBCache {
	return &DBCache{store: store, logger: logger}
}

// Get returns the cached point for an exact query, if any.
func (c *DBCache) Get(ctx context.Context, query string) (*Point, bool) {
	entry, err := c.store.Get(ctx, query)
	if err != nil || entry == nil {
		return nil, false
	}
	return &Point{Lat: entry.Latitude, Lon: entry.Longitude}, true
}

// Put stores a resolved query. Write failures only cost a future provider
// call, so they are logged and swallowed.
func (c *DBCache) Put(ctx context.Context, query string, p Point, provider string) {
	err := c.store.Put(ctx, &models.GeocodingCacheEntry{
		AddressQuery: query,
		Latitude:     p.Lat,
		Longitude:    p.Lon,
		Provider:     provider,
	})
	if err != nil {
		c.logger.Warn("failed to write geocoding cache",
			slog.String("query", query), slog.Any("error", err))
	}
}
