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

// ManagerStore persists managers and their cumulative load.
type ManagerStore struct {
	db *sqlx.DB
}

// NewManagerStore creates a manager repository.
func NewManagerStore(client *database.Client) *ManagerStore {
	return &ManagerStore{db: dbOf(client)}
}

const managerInsert = `
INSERT INTO managers (
	id, full_name, position, skill_factor, skills, office_id,
	csv_load, stress_score, is_active, created_at, updated_at
) VALUES (
	:id, :full_name, :position, :skill_factor, :skills, :office_id,
	:csv_load, :stress_score, :is_active, :created_at, :updated_at
)`

// ReplaceAll swaps in a freshly ingested manager roster. Existing managers are
// deactivated rather than deleted so historical assignments keep their links.
func (s *ManagerStore) ReplaceAll(ctx context.Context, managers []*models.Manager) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin manager replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE managers SET is_active = FALSE`); err != nil {
		return fmt.Errorf("failed to deactivate managers: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range managers {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.IsActive = true
		m.CreatedAt = now
		m.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, managerInsert, m); err != nil {
			return fmt.Errorf("failed to insert manager %q: %w", m.FullName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit manager replace: %w", err)
	}
	return nil
}

// ListActive returns the active roster ordered by id for deterministic
// candidate iteration.
func (s *ManagerStore) ListActive(ctx context.Context) ([]*models.Manager, error) {
	var out []*models.Manager
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM managers WHERE is_active = TRUE ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list managers: %w", err)
	}
	return out, nil
}

// GetByID fetches one manager.
func (s *ManagerStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Manager, error) {
	var m models.Manager
	err := s.db.GetContext(ctx, &m, `SELECT * FROM managers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("manager %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manager: %w", err)
	}
	return &m, nil
}

// SetStressScore persists a manager's cumulative load after an assignment.
func (s *ManagerStore) SetStressScore(ctx context.Context, id uuid.UUID, stress float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managers SET stress_score = $2, updated_at = $3 WHERE id = $1`,
		id, stress, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set stress score: %w", err)
	}
	return nil
}

// LoadReportRow is one line of the manager load report.
type LoadReportRow struct {
	ManagerID   uuid.UUID `db:"manager_id" json:"manager_id"`
	FullName    string    `db:"full_name" json:"full_name"`
	Position    string    `db:"position" json:"position"`
	OfficeName  string    `db:"office_name" json:"office_name"`
	StressScore float64   `db:"stress_score" json:"stress_score"`
	Assigned    int       `db:"assigned" json:"assigned"`
}

// LoadReport returns per-manager assignment counts and current load,
// busiest first.
func (s *ManagerStore) LoadReport(ctx context.Context) ([]LoadReportRow, error) {
	var out []LoadReportRow
	err := s.db.SelectContext(ctx, &out, `
		SELECT m.id AS manager_id, m.full_name, m.position,
		       COALESCE(o.name, '') AS office_name,
		       m.stress_score,
		       COUNT(a.id) AS assigned
		FROM managers m
		LEFT JOIN offices o ON o.id = m.office_id
		LEFT JOIN assignments a ON a.manager_id = m.id
		WHERE m.is_active = TRUE
		GROUP BY m.id, m.full_name, m.position, o.name, m.stress_score
		ORDER BY m.stress_score DESC, m.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to build load report: %w", err)
	}
	return out, nil
}
