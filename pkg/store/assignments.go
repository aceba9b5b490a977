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

// AssignmentStore persists routing decisions.
type AssignmentStore struct {
	db *sqlx.DB
}

// NewAssignmentStore creates an assignment repository.
func NewAssignmentStore(client *database.Client) *AssignmentStore {
	return &AssignmentStore{db: dbOf(client)}
}

// Create records the assignment for a routed ticket. One per ticket; a rerun
// replaces the previous decision.
func (s *AssignmentStore) Create(ctx context.Context, a *models.Assignment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, ticket_id, manager_id, office_id, explanation, details, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticket_id) DO UPDATE SET
			manager_id = EXCLUDED.manager_id,
			office_id = EXCLUDED.office_id,
			explanation = EXCLUDED.explanation,
			details = EXCLUDED.details,
			assigned_at = EXCLUDED.assigned_at`,
		a.ID, a.TicketID, a.ManagerID, a.OfficeID, a.Explanation, a.Details, a.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetByTicketID returns the assignment for one ticket.
func (s *AssignmentStore) GetByTicketID(ctx context.Context, ticketID uuid.UUID) (*models.Assignment, error) {
	var a models.Assignment
	err := s.db.GetContext(ctx, &a,
		`SELECT * FROM assignments WHERE ticket_id = $1`, ticketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

// ListByBatch returns assignments for a batch in upload order.
func (s *AssignmentStore) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.Assignment, error) {
	var out []*models.Assignment
	err := s.db.SelectContext(ctx, &out, `
		SELECT a.* FROM assignments a
		JOIN tickets t ON t.id = a.ticket_id
		WHERE t.batch_id = $1
		ORDER BY t.csv_row_index ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch assignments: %w", err)
	}
	return out, nil
}
