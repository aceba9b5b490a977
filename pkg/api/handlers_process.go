package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/freedomfin/fireroute/pkg/events"
	"github.com/freedomfin/fireroute/pkg/pipeline"
	"github.com/freedomfin/fireroute/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// ProcessBatch queues a batch for enrichment and routing.
func (s *Server) ProcessBatch(c *gin.Context) {
	batchID, ok := parseUUIDParam(c, "batch_id")
	if !ok {
		return
	}

	batch, err := s.stores.Batches.GetByID(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		s.logger.Error("Batch lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch"})
		return
	}

	if err := s.runner.Enqueue(batchID); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAlreadyQueued):
			c.JSON(http.StatusConflict, gin.H{"error": "batch is already being processed"})
		case errors.Is(err, pipeline.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing queue is full, retry later"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	s.logger.Info("Batch queued for processing",
		slog.String("batch_id", batchID.String()),
		slog.Int("total_rows", batch.TotalRows))
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":   batchID,
		"total_rows": batch.TotalRows,
		"status":     "queued",
	})
}

// GetProgress returns the live in-memory snapshot for a running batch, or the
// persisted batch row once the run is gone from memory.
func (s *Server) GetProgress(c *gin.Context) {
	batchID, ok := parseUUIDParam(c, "batch_id")
	if !ok {
		return
	}

	if snap := s.progress.Get(batchID); snap != nil {
		c.JSON(http.StatusOK, snap)
		return
	}

	batch, err := s.stores.Batches.GetByID(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		s.logger.Error("Batch lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batch_id":  batch.ID,
		"status":    batch.Status,
		"total":     batch.TotalRows,
		"processed": batch.ProcessedRows,
		"failed":    batch.FailedRows,
	})
}

// StreamProgress streams batch events over SSE until the pipeline completes
// or the client disconnects.
func (s *Server) StreamProgress(c *gin.Context) {
	batchID, ok := parseUUIDParam(c, "batch_id")
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	sub := s.bus.Subscribe(events.BatchChannel(batchID))
	defer s.bus.Unsubscribe(sub)

	flusher, canFlush := c.Writer.(http.Flusher)

	// Replay the current snapshot first so late joiners see state immediately.
	if snap := s.progress.Get(batchID); snap != nil {
		writeSSE(c, "snapshot", snap)
		if canFlush {
			flusher.Flush()
		}
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			writeSSE(c, ev.EventType, ev)
			if canFlush {
				flusher.Flush()
			}
			if ev.EventType == events.EventTypePipelineCompleted {
				return
			}
		}
	}
}

func writeSSE(c *gin.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
}
