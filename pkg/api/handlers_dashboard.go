package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/freedomfin/fireroute/pkg/store"
	"github.com/gin-gonic/gin"
)

// ListBatches returns recent batches, newest first. Accepts ?limit=N.
func (s *Server) ListBatches(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	batches, err := s.stores.Batches.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Batch list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list batches"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

// ListBatchTickets returns a batch's tickets in upload order.
func (s *Server) ListBatchTickets(c *gin.Context) {
	batchID, ok := parseUUIDParam(c, "batch_id")
	if !ok {
		return
	}

	tickets, err := s.stores.Tickets.ListByBatch(c.Request.Context(), batchID)
	if err != nil {
		s.logger.Error("Ticket list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "tickets": tickets, "count": len(tickets)})
}

// ListBatchAssignments returns a batch's routing decisions in upload order.
func (s *Server) ListBatchAssignments(c *gin.Context) {
	batchID, ok := parseUUIDParam(c, "batch_id")
	if !ok {
		return
	}

	assignments, err := s.stores.Assignments.ListByBatch(c.Request.Context(), batchID)
	if err != nil {
		s.logger.Error("Assignment list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assignments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "assignments": assignments, "count": len(assignments)})
}

// GetTicket returns one ticket with its analysis, assignment and the per-stage
// processing trail.
func (s *Server) GetTicket(c *gin.Context) {
	ticketID, ok := parseUUIDParam(c, "ticket_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ticket, err := s.stores.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		s.logger.Error("Ticket lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ticket"})
		return
	}

	body := gin.H{"ticket": ticket}

	if analysis, err := s.stores.Analyses.GetByTicketID(ctx, ticketID); err == nil {
		body["analysis"] = analysis
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Analysis lookup failed", slog.String("error", err.Error()))
	}

	if assignment, err := s.stores.Assignments.GetByTicketID(ctx, ticketID); err == nil {
		body["assignment"] = assignment
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Assignment lookup failed", slog.String("error", err.Error()))
	}

	if states, err := s.stores.States.ListByTicket(ctx, ticketID); err == nil {
		body["processing_states"] = states
	} else {
		s.logger.Warn("State lookup failed", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, body)
}

// ManagerLoadReport returns per-manager load and assignment counts.
func (s *Server) ManagerLoadReport(c *gin.Context) {
	report, err := s.stores.Managers.LoadReport(c.Request.Context())
	if err != nil {
		s.logger.Error("Load report failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build load report"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"managers": report, "count": len(report)})
}
