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

// PIIStore persists token-to-original mappings. Rows are append-only.
type PIIStore struct {
	db *sqlx.DB
}

// NewPIIStore creates a PII mapping repository.
func NewPIIStore(client *database.Client) *PIIStore {
	return &PIIStore{db: dbOf(client)}
}

// CreateMany records the detected entities for one ticket.
func (s *PIIStore) CreateMany(ctx context.Context, mappings []*models.PIIMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin pii insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, m := range mappings {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.CreatedAt = now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pii_mappings (id, ticket_id, token, original_value, pii_kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (ticket_id, token) DO NOTHING`,
			m.ID, m.TicketID, m.Token, m.OriginalValue, m.PIIKind, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert pii mapping %s: %w", m.Token, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pii insert: %w", err)
	}
	return nil
}

// ListByTicket returns the mappings for one ticket, longest token first so
// rehydration replaces [PHONE_10] before [PHONE_1].
func (s *PIIStore) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*models.PIIMapping, error) {
	var out []*models.PIIMapping
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM pii_mappings
		WHERE ticket_id = $1
		ORDER BY length(token) DESC, token ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pii mappings: %w", err)
	}
	return out, nil
}
