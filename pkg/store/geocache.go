package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/freedomfin/fireroute/pkg/database"
	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GeoCacheStore persists resolved address queries. Append-only; the first
// writer for a query wins.
type GeoCacheStore struct {
	db *sqlx.DB
}

// NewGeoCacheStore creates a geocoding cache repository.
func NewGeoCacheStore(client *database.Client) *GeoCacheStore {
	return &GeoCacheStore{db: dbOf(client)}
}

// Get looks up a cached resolution by exact query string.
func (s *GeoCacheStore) Get(ctx context.Context, query string) (*models.GeocodingCacheEntry, error) {
	var e models.GeocodingCacheEntry
	err := s.db.GetContext(ctx, &e,
		`SELECT * FROM geocoding_cache WHERE address_query = $1`, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("geocache %q: %w", query, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geocache entry: %w", err)
	}
	return &e, nil
}

// Put stores a resolution. Concurrent writers for the same query are
// harmless: ON CONFLICT DO NOTHING keeps the first row.
func (s *GeoCacheStore) Put(ctx context.Context, e *models.GeocodingCacheEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocoding_cache (id, address_query, latitude, longitude, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address_query) DO NOTHING`,
		e.ID, e.AddressQuery, e.Latitude, e.Longitude, e.Provider, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put geocache entry: %w", err)
	}
	return nil
}
