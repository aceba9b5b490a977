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

// BatchStore persists uploaded batches.
type BatchStore struct {
	db *sqlx.DB
}

// NewBatchStore creates a batch repository.
func NewBatchStore(client *database.Client) *BatchStore {
	return &BatchStore{db: dbOf(client)}
}

// Create inserts a new pending batch and returns it.
func (s *BatchStore) Create(ctx context.Context, filename string, totalRows int) (*models.Batch, error) {
	b := &models.Batch{
		ID:        uuid.New(),
		Filename:  filename,
		TotalRows: totalRows,
		Status:    models.BatchPending,
		ErrorLog:  models.StringList{},
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, filename, total_rows, status, error_log, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.Filename, b.TotalRows, b.Status, b.ErrorLog, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	return b, nil
}

// GetByID fetches one batch.
func (s *BatchStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	var b models.Batch
	err := s.db.GetContext(ctx, &b, `SELECT * FROM batches WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

// List returns batches newest first.
func (s *BatchStore) List(ctx context.Context, limit int) ([]models.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Batch
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM batches ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return out, nil
}

// SetStatus moves a batch to the given lifecycle status.
func (s *BatchStore) SetStatus(ctx context.Context, id uuid.UUID, status models.BatchStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set batch status: %w", err)
	}
	return nil
}

// Finish records the terminal state of a batch run.
func (s *BatchStore) Finish(ctx context.Context, id uuid.UUID, status models.BatchStatus,
	processed, failed int, errorLog models.StringList) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches
		 SET status = $2, processed_rows = $3, failed_rows = $4, error_log = $5, completed_at = $6
		 WHERE id = $1`,
		id, status, processed, failed, errorLog, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	return nil
}

// SetProgress updates the processed/failed counters mid-run.
func (s *BatchStore) SetProgress(ctx context.Context, id uuid.UUID, processed, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET processed_rows = $2, failed_rows = $3 WHERE id = $1`,
		id, processed, failed)
	if err != nil {
		return fmt.Errorf("failed to update batch progress: %w", err)
	}
	return nil
}
