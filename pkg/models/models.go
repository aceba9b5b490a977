// Package models defines the shared record types and enums for the ticket
// enrichment pipeline. Records are plain structs; ownership follows the
// pipeline direction (Ticket owns its Analysis and Assignment, the reverse
// links are foreign keys only).
package models

import (
	"time"

	"github.com/google/uuid"
)

// Ticket is one row of an uploaded batch, enriched in place by the pipeline
// stages. Only the orchestrator mutates a ticket, in stage order.
type Ticket struct {
	ID                    uuid.UUID     `db:"id" json:"id"`
	BatchID               uuid.UUID     `db:"batch_id" json:"batch_id"`
	CSVRowIndex           int           `db:"csv_row_index" json:"csv_row_index"`
	GUID                  string        `db:"guid" json:"guid"`
	Gender                string        `db:"gender" json:"gender,omitempty"`
	BirthDate             *time.Time    `db:"birth_date" json:"birth_date,omitempty"`
	Age                   *int          `db:"age" json:"age,omitempty"`
	Segment               Segment       `db:"segment" json:"segment"`
	Description           string        `db:"description" json:"description"`
	DescriptionAnonymized string        `db:"description_anonymized" json:"description_anonymized,omitempty"`
	Attachments           StringList    `db:"attachments" json:"attachments,omitempty"`
	Country               string        `db:"country" json:"country,omitempty"`
	Region                string        `db:"region" json:"region,omitempty"`
	City                  string        `db:"city" json:"city,omitempty"`
	Street                string        `db:"street" json:"street,omitempty"`
	House                 string        `db:"house" json:"house,omitempty"`
	Latitude              *float64      `db:"latitude" json:"latitude,omitempty"`
	Longitude             *float64      `db:"longitude" json:"longitude,omitempty"`
	AddressStatus         AddressStatus `db:"address_status" json:"address_status"`
	GeoExplanation        string        `db:"geo_explanation" json:"geo_explanation,omitempty"`
	TicketType            TicketType    `db:"ticket_type" json:"ticket_type,omitempty"`
	Status                TicketStatus  `db:"status" json:"status"`
	IsSpam                bool          `db:"is_spam" json:"is_spam"`
	SpamProbability       float64       `db:"spam_probability" json:"spam_probability"`
	TextLength            int           `db:"text_length" json:"text_length"`
	IDCountOfUser         int           `db:"id_count_of_user" json:"id_count_of_user"`
	AssignedManagerID     *uuid.UUID    `db:"assigned_manager_id" json:"assigned_manager_id,omitempty"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// PIIMapping records one detected entity for one ticket: the token that was
// substituted into the text and the original value. Never mutated.
type PIIMapping struct {
	ID            uuid.UUID `db:"id" json:"id"`
	TicketID      uuid.UUID `db:"ticket_id" json:"ticket_id"`
	Token         string    `db:"token" json:"token"`
	OriginalValue []byte    `db:"original_value" json:"-"`
	PIIKind       PIIKind   `db:"pii_kind" json:"pii_kind"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AIAnalysis holds the merged classifier, sentiment and priority output for a
// ticket. One-to-one with Ticket.
type AIAnalysis struct {
	ID                   uuid.UUID         `db:"id" json:"id"`
	TicketID             uuid.UUID         `db:"ticket_id" json:"ticket_id"`
	DetectedType         TicketType        `db:"detected_type" json:"detected_type"`
	LanguageLabel        LanguageLabel     `db:"language_label" json:"language_label"`
	LanguageActual       string            `db:"language_actual" json:"language_actual"`
	LanguageIsMixed      bool              `db:"language_is_mixed" json:"language_is_mixed"`
	LanguageNote         string            `db:"language_note" json:"language_note,omitempty"`
	Summary              string            `db:"summary" json:"summary"`
	SummaryAnonymized    string            `db:"summary_anonymized" json:"summary_anonymized,omitempty"`
	AttachmentAnalysis   string            `db:"attachment_analysis" json:"attachment_analysis,omitempty"`
	Explanation          string            `db:"explanation" json:"explanation,omitempty"`
	Sentiment            Sentiment         `db:"sentiment" json:"sentiment"`
	SentimentConfidence  float64           `db:"sentiment_confidence" json:"sentiment_confidence"`
	NeedsDataChange      bool              `db:"needs_data_change" json:"needs_data_change"`
	NeedsLocationRouting bool              `db:"needs_location_routing" json:"needs_location_routing"`
	Priority             PriorityBreakdown `db:"priority_breakdown" json:"priority_breakdown"`
	LLMModel             string            `db:"llm_model" json:"llm_model,omitempty"`
	ProcessingTimeMs     int64             `db:"processing_time_ms" json:"processing_time_ms"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
}

// PriorityBreakdown is the persisted per-factor priority decomposition.
// Weighted contributions, not raw scores.
type PriorityBreakdown struct {
	Segment           float64 `json:"segment"`
	Type              float64 `json:"type"`
	Sentiment         float64 `json:"sentiment"`
	Age               float64 `json:"age"`
	RepeatClient      float64 `json:"repeat_client"`
	BaseTotal         float64 `json:"base_total"`
	ExtraExpansion    float64 `json:"extra_expansion"`
	ExtraYoungVIP     float64 `json:"extra_young_vip"`
	ExtraFIFO         float64 `json:"extra_fifo"`
	ExtraTotal        float64 `json:"extra_total"`
	FraudFloorApplied bool    `json:"fraud_floor_applied"`
	Final             float64 `json:"final"`
}

// Manager is a human handler tied to an office. StressScore is the cumulative
// load, monotonically non-decreasing during a batch.
type Manager struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	FullName    string     `db:"full_name" json:"full_name"`
	Position    Position   `db:"position" json:"position"`
	SkillFactor float64    `db:"skill_factor" json:"skill_factor"`
	Skills      StringList `db:"skills" json:"skills"`
	OfficeID    *uuid.UUID `db:"office_id" json:"office_id,omitempty"`
	CSVLoad     int        `db:"csv_load" json:"csv_load"`
	StressScore float64    `db:"stress_score" json:"stress_score"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// HasSkill reports whether the manager carries the given skill tag.
func (m *Manager) HasSkill(skill string) bool {
	for _, s := range m.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// Office is a physical branch. Immutable during the pipeline.
type Office struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address,omitempty"`
	Latitude  *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64  `db:"longitude" json:"longitude,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// HasCoordinates reports whether the office was geocoded on ingest.
func (o *Office) HasCoordinates() bool {
	return o.Latitude != nil && o.Longitude != nil
}

// Assignment links a routed ticket to a manager and office, with the
// explanation shown on the dashboard. Created exactly once per routed ticket.
type Assignment struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	TicketID    uuid.UUID      `db:"ticket_id" json:"ticket_id"`
	ManagerID   uuid.UUID      `db:"manager_id" json:"manager_id"`
	OfficeID    *uuid.UUID     `db:"office_id" json:"office_id,omitempty"`
	Explanation string         `db:"explanation" json:"explanation"`
	Details     RoutingDetails `db:"details" json:"details"`
	AssignedAt  time.Time      `db:"assigned_at" json:"assigned_at"`
}

// RoutingDetails is the structured part of an assignment decision.
type RoutingDetails struct {
	DistanceKm      *float64 `json:"distance_km,omitempty"`
	OfficeName      string   `json:"office_name,omitempty"`
	Difficulty      float64  `json:"difficulty"`
	LoadAfter       float64  `json:"load_after"`
	Relaxations     []string `json:"relaxations,omitempty"`
	GeoFilterNote   string   `json:"geo_filter_note,omitempty"`
	PriorityFinal   float64  `json:"priority_final"`
	CandidatesSeen  int      `json:"candidates_seen"`
	CandidatesLeft  int      `json:"candidates_left"`
}

// Batch is one uploaded ticket file, the unit of orchestration.
type Batch struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	Filename      string      `db:"filename" json:"filename"`
	TotalRows     int         `db:"total_rows" json:"total_rows"`
	ProcessedRows int         `db:"processed_rows" json:"processed_rows"`
	FailedRows    int         `db:"failed_rows" json:"failed_rows"`
	Status        BatchStatus `db:"status" json:"status"`
	ErrorLog      StringList  `db:"error_log" json:"error_log,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	CompletedAt   *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// ProcessingState is one audit row per stage per ticket.
type ProcessingState struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	TicketID    uuid.UUID   `db:"ticket_id" json:"ticket_id"`
	BatchID     uuid.UUID   `db:"batch_id" json:"batch_id"`
	Stage       Stage       `db:"stage" json:"stage"`
	Status      StageStatus `db:"status" json:"status"`
	Message     string      `db:"message" json:"message,omitempty"`
	ErrorDetail string      `db:"error_detail" json:"error_detail,omitempty"`
	StartedAt   time.Time   `db:"started_at" json:"started_at"`
	CompletedAt *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// GeocodingCacheEntry is one resolved address query. Append-only; lookups are
// by the exact query string.
type GeocodingCacheEntry struct {
	ID           uuid.UUID `db:"id" json:"id"`
	AddressQuery string    `db:"address_query" json:"address_query"`
	Latitude     float64   `db:"latitude" json:"latitude"`
	Longitude    float64   `db:"longitude" json:"longitude"`
	Provider     string    `db:"provider" json:"provider"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
