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

// StateStore persists the per-stage audit trail.
type StateStore struct {
	db *sqlx.DB
}

// NewStateStore creates a processing-state repository.
func NewStateStore(client *database.Client) *StateStore {
	return &StateStore{db: dbOf(client)}
}

// Start opens an in-progress state row for a stage and returns its id.
func (s *StateStore) Start(ctx context.Context, ticketID, batchID uuid.UUID, stage models.Stage) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_states (id, ticket_id, batch_id, stage, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, ticketID, batchID, stage, models.StageInProgress, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start stage state: %w", err)
	}
	return id, nil
}

// Finish closes a state row with its outcome.
func (s *StateStore) Finish(ctx context.Context, id uuid.UUID, status models.StageStatus, message, errorDetail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_states
		SET status = $2, message = $3, error_detail = $4, completed_at = $5
		WHERE id = $1`,
		id, status, message, errorDetail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finish stage state: %w", err)
	}
	return nil
}

// ListByTicket returns the audit trail for one ticket in execution order.
func (s *StateStore) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*models.ProcessingState, error) {
	var out []*models.ProcessingState
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM processing_states
		WHERE ticket_id = $1
		ORDER BY started_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage states: %w", err)
	}
	return out, nil
}
