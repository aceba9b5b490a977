// Package events provides real-time pipeline progress delivery.
//
// Every processing stage publishes events onto an in-memory Bus; the SSE
// handler relays them to subscribed dashboard clients. Alongside the stream,
// a ProgressTracker keeps a per-batch snapshot so clients that poll (or
// connect late) see consistent totals without replaying the stream.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published by the pipeline.
const (
	EventTypeStageUpdate       = "stage_update"
	EventTypeTicketCompleted   = "ticket_completed"
	EventTypeBatchStarted      = "batch_started"
	EventTypePipelineCompleted = "pipeline_completed"
)

// Event is one progress message. Stage and Status use the models.Stage and
// models.StageStatus values. Data carries stage-specific detail and is
// serialized as-is into the SSE payload.
type Event struct {
	EventType string          `json:"event_type"`
	Stage     string          `json:"stage,omitempty"`
	Status    string          `json:"status,omitempty"`
	BatchID   uuid.UUID       `json:"batch_id"`
	TicketID  *uuid.UUID      `json:"ticket_id,omitempty"`
	Field     string          `json:"field,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// BatchChannel returns the bus channel name for one batch's events.
// Format: "batch:{batch_id}"
func BatchChannel(batchID uuid.UUID) string {
	return "batch:" + batchID.String()
}
