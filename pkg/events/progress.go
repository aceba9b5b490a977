package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TicketOutcome is one finished ticket in a batch snapshot. Failed tickets
// appear with IsComplete set and the analytic fields empty.
type TicketOutcome struct {
	TicketID    uuid.UUID `json:"ticket_id"`
	CSVRowIndex int       `json:"csv_row_index"`
	Status      string    `json:"status"` // enriched | spam | failed
	Type        string    `json:"type,omitempty"`
	Sentiment   string    `json:"sentiment,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Priority    float64   `json:"priority,omitempty"`
	ManagerName string    `json:"manager_name,omitempty"`
	IsSpam      bool      `json:"is_spam"`
	IsComplete  bool      `json:"is_complete"`
	Error       string    `json:"error,omitempty"`
}

// Snapshot is the polled view of one batch's progress.
type Snapshot struct {
	BatchID    uuid.UUID       `json:"batch_id"`
	Status     string          `json:"status"` // processing | completed | failed
	Total      int             `json:"total"`
	Processed  int             `json:"processed"`
	Spam       int             `json:"spam"`
	Failed     int             `json:"failed"`
	CurrentRow int             `json:"current_row"`
	Results    []TicketOutcome `json:"results"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ProgressTracker keeps in-memory snapshots for active and recently finished
// batches. Snapshots survive only for the process lifetime; historical data
// lives in the database.
type ProgressTracker struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]*Snapshot
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{batches: make(map[uuid.UUID]*Snapshot)}
}

// Start registers a batch with its expected total.
func (t *ProgressTracker) Start(batchID uuid.UUID, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[batchID] = &Snapshot{
		BatchID:   batchID,
		Status:    "processing",
		Total:     total,
		Results:   make([]TicketOutcome, 0, total),
		StartedAt: time.Now().UTC(),
	}
}

// SetCurrentRow records which CSV row the pipeline is working on.
func (t *ProgressTracker) SetCurrentRow(batchID uuid.UUID, row int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.batches[batchID]; ok {
		s.CurrentRow = row
	}
}

// Append records one finished ticket and bumps the counters.
func (t *ProgressTracker) Append(batchID uuid.UUID, outcome TicketOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.batches[batchID]
	if !ok {
		return
	}
	s.Results = append(s.Results, outcome)
	s.Processed++
	switch outcome.Status {
	case "spam":
		s.Spam++
	case "failed":
		s.Failed++
	}
}

// Finish marks the batch terminal.
func (t *ProgressTracker) Finish(batchID uuid.UUID, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.batches[batchID]; ok {
		s.Status = status
		now := time.Now().UTC()
		s.FinishedAt = &now
	}
}

// Get returns a copy of the snapshot, or nil if the batch is unknown to this
// process.
func (t *ProgressTracker) Get(batchID uuid.UUID) *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.batches[batchID]
	if !ok {
		return nil
	}
	out := *s
	out.Results = append([]TicketOutcome(nil), s.Results...)
	return &out
}
