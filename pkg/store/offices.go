package store

import (
	"context"
	"fmt"
	"time"

	"github.com/freedomfin/fireroute/pkg/database"
	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// OfficeStore persists branch offices.
type OfficeStore struct {
	db *sqlx.DB
}

// NewOfficeStore creates an office repository.
func NewOfficeStore(client *database.Client) *OfficeStore {
	return &OfficeStore{db: dbOf(client)}
}

// CreateMany inserts a set of offices.
func (s *OfficeStore) CreateMany(ctx context.Context, offices []*models.Office) error {
	if len(offices) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin office insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, o := range offices {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		o.CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO offices (id, name, address, latitude, longitude, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.Name, o.Address, o.Latitude, o.Longitude, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert office %q: %w", o.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit office insert: %w", err)
	}
	return nil
}

// List returns all offices ordered by name.
func (s *OfficeStore) List(ctx context.Context) ([]*models.Office, error) {
	var out []*models.Office
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM offices ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list offices: %w", err)
	}
	return out, nil
}
