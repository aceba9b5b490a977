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

// TicketStore persists tickets and their enrichment updates.
type TicketStore struct {
	db *sqlx.DB
}

// NewTicketStore creates a ticket repository.
func NewTicketStore(client *database.Client) *TicketStore {
	return &TicketStore{db: dbOf(client)}
}

const ticketInsert = `
INSERT INTO tickets (
	id, batch_id, csv_row_index, guid, gender, birth_date, age, segment,
	description, attachments, country, region, city, street, house,
	status, text_length, id_count_of_user, created_at, updated_at
) VALUES (
	:id, :batch_id, :csv_row_index, :guid, :gender, :birth_date, :age, :segment,
	:description, :attachments, :country, :region, :city, :street, :house,
	:status, :text_length, :id_count_of_user, :created_at, :updated_at
)`

// CreateMany inserts all tickets of a freshly parsed batch.
func (s *TicketStore) CreateMany(ctx context.Context, tickets []*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ticket insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, t := range tickets {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, ticketInsert, t); err != nil {
			return fmt.Errorf("failed to insert ticket row %d: %w", t.CSVRowIndex, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ticket insert: %w", err)
	}
	return nil
}

// GetByID fetches one ticket.
func (s *TicketStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tickets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &t, nil
}

// ListByBatch returns a batch's tickets in upload order.
func (s *TicketStore) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.Ticket, error) {
	var out []*models.Ticket
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM tickets WHERE batch_id = $1 ORDER BY csv_row_index ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch tickets: %w", err)
	}
	return out, nil
}

const ticketUpdate = `
UPDATE tickets SET
	description_anonymized = :description_anonymized,
	latitude = :latitude,
	longitude = :longitude,
	address_status = :address_status,
	geo_explanation = :geo_explanation,
	ticket_type = :ticket_type,
	status = :status,
	is_spam = :is_spam,
	spam_probability = :spam_probability,
	assigned_manager_id = :assigned_manager_id,
	updated_at = :updated_at
WHERE id = :id`

// Update persists the enrichment fields mutated by the pipeline stages.
func (s *TicketStore) Update(ctx context.Context, t *models.Ticket) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, ticketUpdate, t)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ticket %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// SetStatus moves a ticket to the given lifecycle status.
func (s *TicketStore) SetStatus(ctx context.Context, id uuid.UUID, status models.TicketStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set ticket status: %w", err)
	}
	return nil
}
