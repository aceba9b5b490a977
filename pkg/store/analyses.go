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

// AnalysisStore persists merged classifier/sentiment/priority output.
type AnalysisStore struct {
	db *sqlx.DB
}

// NewAnalysisStore creates an analysis repository.
func NewAnalysisStore(client *database.Client) *AnalysisStore {
	return &AnalysisStore{db: dbOf(client)}
}

const analysisUpsert = `
INSERT INTO ai_analyses (
	id, ticket_id, detected_type, language_label, language_actual,
	language_is_mixed, language_note, summary, summary_anonymized,
	attachment_analysis, explanation, sentiment, sentiment_confidence,
	needs_data_change, needs_location_routing, priority_breakdown,
	llm_model, processing_time_ms, created_at
) VALUES (
	:id, :ticket_id, :detected_type, :language_label, :language_actual,
	:language_is_mixed, :language_note, :summary, :summary_anonymized,
	:attachment_analysis, :explanation, :sentiment, :sentiment_confidence,
	:needs_data_change, :needs_location_routing, :priority_breakdown,
	:llm_model, :processing_time_ms, :created_at
)
ON CONFLICT (ticket_id) DO UPDATE SET
	detected_type = EXCLUDED.detected_type,
	language_label = EXCLUDED.language_label,
	language_actual = EXCLUDED.language_actual,
	language_is_mixed = EXCLUDED.language_is_mixed,
	language_note = EXCLUDED.language_note,
	summary = EXCLUDED.summary,
	summary_anonymized = EXCLUDED.summary_anonymized,
	attachment_analysis = EXCLUDED.attachment_analysis,
	explanation = EXCLUDED.explanation,
	sentiment = EXCLUDED.sentiment,
	sentiment_confidence = EXCLUDED.sentiment_confidence,
	needs_data_change = EXCLUDED.needs_data_change,
	needs_location_routing = EXCLUDED.needs_location_routing,
	priority_breakdown = EXCLUDED.priority_breakdown,
	llm_model = EXCLUDED.llm_model,
	processing_time_ms = EXCLUDED.processing_time_ms`

// Upsert writes the analysis for a ticket, replacing any previous run.
func (s *AnalysisStore) Upsert(ctx context.Context, a *models.AIAnalysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, analysisUpsert, a); err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}
	return nil
}

// GetByTicketID fetches the analysis for one ticket.
func (s *AnalysisStore) GetByTicketID(ctx context.Context, ticketID uuid.UUID) (*models.AIAnalysis, error) {
	var a models.AIAnalysis
	err := s.db.GetContext(ctx, &a, `SELECT * FROM ai_analyses WHERE ticket_id = $1`, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for ticket %s: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &a, nil
}
