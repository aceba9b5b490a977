// Package api exposes the HTTP surface: CSV uploads, batch processing
// triggers, progress polling, the SSE progress stream and dashboard reads.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/freedomfin/fireroute/pkg/config"
	"github.com/freedomfin/fireroute/pkg/database"
	"github.com/freedomfin/fireroute/pkg/events"
	"github.com/freedomfin/fireroute/pkg/geo"
	"github.com/freedomfin/fireroute/pkg/pipeline"
	"github.com/freedomfin/fireroute/pkg/store"
	"github.com/freedomfin/fireroute/pkg/version"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// Server holds the handler dependencies.
type Server struct {
	cfg      *config.Config
	db       *database.Client
	stores   *store.Stores
	geocoder *geo.Geocoder
	runner   *pipeline.Runner
	bus      *events.Bus
	progress *events.ProgressTracker
	logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, db *database.Client, stores *store.Stores,
	geocoder *geo.Geocoder, runner *pipeline.Runner, bus *events.Bus,
	progress *events.ProgressTracker, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		db:       db,
		stores:   stores,
		geocoder: geocoder,
		runner:   runner,
		bus:      bus,
		progress: progress,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = s.cfg.MaxUploadSizeBytes()

	r.GET("/health", s.Health)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/upload/offices", s.UploadOffices)
		apiGroup.POST("/upload/managers", s.UploadManagers)
		apiGroup.POST("/upload/tickets", s.UploadTickets)

		apiGroup.POST("/process/:batch_id", s.ProcessBatch)
		apiGroup.GET("/progress/:batch_id", s.GetProgress)
		apiGroup.GET("/stream/:batch_id", s.StreamProgress)

		apiGroup.GET("/batches", s.ListBatches)
		apiGroup.GET("/batches/:batch_id/tickets", s.ListBatchTickets)
		apiGroup.GET("/batches/:batch_id/assignments", s.ListBatchAssignments)
		apiGroup.GET("/tickets/:ticket_id", s.GetTicket)
		apiGroup.GET("/managers/load", s.ManagerLoadReport)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.cfg.HTTPPort,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// Health reports service and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := s.db.Health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"version":  version.Full(),
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbHealth,
	})
}
