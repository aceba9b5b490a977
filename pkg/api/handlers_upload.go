package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/freedomfin/fireroute/pkg/ingest"
	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// readUpload pulls the "file" part out of the multipart form, enforcing the
// configured size cap.
func (s *Server) readUpload(c *gin.Context) (string, []byte, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return "", nil, false
	}
	if header.Size > s.cfg.MaxUploadSizeBytes() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds %d MB limit", s.cfg.MaxUploadSizeMB),
		})
		return "", nil, false
	}
	data, ok := readAll(c, header)
	if !ok {
		return "", nil, false
	}
	return header.Filename, data, true
}

func readAll(c *gin.Context, header *multipart.FileHeader) ([]byte, bool) {
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open upload: " + err.Error()})
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload: " + err.Error()})
		return nil, false
	}
	return data, true
}

// UploadOffices ingests the offices CSV and geocodes each office address so
// the router can distance-filter later.
func (s *Server) UploadOffices(c *gin.Context) {
	filename, data, ok := s.readUpload(c)
	if !ok {
		return
	}

	rows, err := ingest.ParseOffices(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	offices := make([]*models.Office, 0, len(rows))
	geocoded := 0
	for _, row := range rows {
		o := &models.Office{
			ID:      uuid.New(),
			Name:    row.Name,
			Address: row.Address,
		}
		if p, _ := s.geocoder.Lookup(ctx, row.Address); p != nil {
			lat, lon := p.Lat, p.Lon
			o.Latitude, o.Longitude = &lat, &lon
			geocoded++
		}
		offices = append(offices, o)
	}

	if err := s.stores.Offices.CreateMany(ctx, offices); err != nil {
		s.logger.Error("Office insert failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save offices"})
		return
	}

	s.logger.Info("Offices uploaded",
		slog.String("filename", filename),
		slog.Int("count", len(offices)),
		slog.Int("geocoded", geocoded))
	c.JSON(http.StatusOK, gin.H{
		"filename": filename,
		"offices":  len(offices),
		"geocoded": geocoded,
	})
}

// UploadManagers ingests the managers CSV, resolving office names against the
// stored offices, and replaces the active roster.
func (s *Server) UploadManagers(c *gin.Context) {
	filename, data, ok := s.readUpload(c)
	if !ok {
		return
	}

	rows, err := ingest.ParseManagers(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	offices, err := s.stores.Offices.List(ctx)
	if err != nil {
		s.logger.Error("Office lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load offices"})
		return
	}
	officeByName := make(map[string]uuid.UUID, len(offices))
	for _, o := range offices {
		officeByName[o.Name] = o.ID
	}

	managers := make([]*models.Manager, 0, len(rows))
	unmatched := 0
	for _, row := range rows {
		m := &models.Manager{
			ID:          uuid.New(),
			FullName:    row.FullName,
			Position:    row.Position,
			SkillFactor: row.Position.SkillFactor(),
			Skills:      models.StringList(row.Skills),
			CSVLoad:     row.CSVLoad,
			StressScore: float64(row.CSVLoad),
			IsActive:    true,
		}
		if id, ok := officeByName[row.OfficeName]; ok {
			officeID := id
			m.OfficeID = &officeID
		} else if row.OfficeName != "" {
			unmatched++
		}
		managers = append(managers, m)
	}

	if err := s.stores.Managers.ReplaceAll(ctx, managers); err != nil {
		s.logger.Error("Manager replace failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save managers"})
		return
	}

	s.logger.Info("Managers uploaded",
		slog.String("filename", filename),
		slog.Int("count", len(managers)),
		slog.Int("unmatched_offices", unmatched))
	c.JSON(http.StatusOK, gin.H{
		"filename":          filename,
		"managers":          len(managers),
		"unmatched_offices": unmatched,
	})
}

// UploadTickets ingests the tickets CSV into a new pending batch. Processing
// starts only when the batch is explicitly triggered.
func (s *Server) UploadTickets(c *gin.Context) {
	filename, data, ok := s.readUpload(c)
	if !ok {
		return
	}

	tickets, err := ingest.ParseTickets(data, uuid.Nil, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(tickets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no ticket rows found in file"})
		return
	}

	ctx := c.Request.Context()
	batch, err := s.stores.Batches.Create(ctx, filename, len(tickets))
	if err != nil {
		s.logger.Error("Batch create failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create batch"})
		return
	}
	for _, t := range tickets {
		t.BatchID = batch.ID
	}
	if err := s.stores.Tickets.CreateMany(ctx, tickets); err != nil {
		s.logger.Error("Ticket insert failed",
			slog.String("batch_id", batch.ID.String()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save tickets"})
		return
	}

	s.logger.Info("Tickets uploaded",
		slog.String("filename", filename),
		slog.String("batch_id", batch.ID.String()),
		slog.Int("rows", len(tickets)))
	c.JSON(http.StatusOK, gin.H{
		"batch_id":   batch.ID,
		"filename":   filename,
		"total_rows": len(tickets),
		"status":     batch.Status,
	})
}
