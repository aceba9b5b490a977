// Package pipeline orchestrates batch enrichment: spam prefilter, PII
// anonymization, the parallel LLM/sentiment/geocoding fan-out, priority
// scoring and manager routing. Tickets are processed sequentially; the
// parallelism lives inside each ticket.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/freedomfin/fireroute/pkg/config"
	"github.com/freedomfin/fireroute/pkg/events"
	"github.com/freedomfin/fireroute/pkg/geo"
	"github.com/freedomfin/fireroute/pkg/llm"
	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/freedomfin/fireroute/pkg/pii"
	"github.com/freedomfin/fireroute/pkg/priority"
	"github.com/freedomfin/fireroute/pkg/routing"
	"github.com/freedomfin/fireroute/pkg/spam"
	"github.com/freedomfin/fireroute/pkg/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Narrow store views; the concrete repositories in pkg/store satisfy them.
type (
	// BatchStore is the batch lifecycle persistence used by the pipeline.
	BatchStore interface {
		GetByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
		SetStatus(ctx context.Context, id uuid.UUID, status models.BatchStatus) error
		SetProgress(ctx context.Context, id uuid.UUID, processed, failed int) error
		Finish(ctx context.Context, id uuid.UUID, status models.BatchStatus,
			processed, failed int, errorLog models.StringList) error
	}

	// TicketStore reads and updates tickets within a batch.
	TicketStore interface {
		ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.Ticket, error)
		Update(ctx context.Context, t *models.Ticket) error
	}

	// ManagerStore provides the routing roster and persists load.
	ManagerStore interface {
		ListActive(ctx context.Context) ([]*models.Manager, error)
		SetStressScore(ctx context.Context, id uuid.UUID, stress float64) error
	}

	// OfficeStore provides office coordinates for the geo filter.
	OfficeStore interface {
		List(ctx context.Context) ([]*models.Office, error)
	}

	// AnalysisStore persists merged enrichment output.
	AnalysisStore interface {
		Upsert(ctx context.Context, a *models.AIAnalysis) error
	}

	// AssignmentStore persists routing decisions.
	AssignmentStore interface {
		Create(ctx context.Context, a *models.Assignment) error
	}

	// PIIStore persists and reads token mappings.
	PIIStore interface {
		CreateMany(ctx context.Context, mappings []*models.PIIMapping) error
		ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*models.PIIMapping, error)
	}

	// StateStore writes per-stage audit rows.
	StateStore interface {
		Start(ctx context.Context, ticketID, batchID uuid.UUID, stage models.Stage) (uuid.UUID, error)
		Finish(ctx context.Context, id uuid.UUID, status models.StageStatus, message, errorDetail string) error
	}
)

// Stage workers. The concrete implementations live in pkg/spam, pkg/llm and
// pkg/geo.
type (
	// SpamChecker is the stage-A prefilter.
	SpamChecker interface {
		Check(ctx context.Context, text string) spam.Result
	}

	// Classifier is the stage-C type/language/summary call.
	Classifier interface {
		Analyze(ctx context.Context, req llm.AnalyzeRequest) (*llm.AnalysisResult, error)
	}

	// SentimentAnalyzer is the stage-D tone call.
	SentimentAnalyzer interface {
		Analyze(ctx context.Context, text string) (*llm.SentimentResult, error)
	}

	// Geocoder is the stage-E address ladder.
	Geocoder interface {
		Resolve(ctx context.Context, addr geo.Address, alt *geo.Alternator) *geo.Resolution
	}
)

// Deps bundles everything a Pipeline needs.
type Deps struct {
	Batches     BatchStore
	Tickets     TicketStore
	Managers    ManagerStore
	Offices     OfficeStore
	Analyses    AnalysisStore
	Assignments AssignmentStore
	PII         PIIStore
	States      StateStore

	Spam      SpamChecker
	Classify  Classifier
	Sentiment SentimentAnalyzer
	Geocode   Geocoder

	Bus      *events.Bus
	Progress *events.ProgressTracker
	Config   *config.Config
	Logger   *slog.Logger
}

// FromStores builds Deps over the concrete repository set.
func FromStores(s *store.Stores, spamFilter SpamChecker, classify Classifier,
	sentiment SentimentAnalyzer, geocode Geocoder, bus *events.Bus,
	progress *events.ProgressTracker, cfg *config.Config, logger *slog.Logger) Deps {
	return Deps{
		Batches:     s.Batches,
		Tickets:     s.Tickets,
		Managers:    s.Managers,
		Offices:     s.Offices,
		Analyses:    s.Analyses,
		Assignments: s.Assignments,
		PII:         s.PII,
		States:      s.States,
		Spam:        spamFilter,
		Classify:    classify,
		Sentiment:   sentiment,
		Geocode:     geocode,
		Bus:         bus,
		Progress:    progress,
		Config:      cfg,
		Logger:      logger,
	}
}

// Pipeline runs batches. Stateless between batches; per-batch state (router
// loads, geocoder alternator) is created inside ProcessBatch.
type Pipeline struct {
	deps Deps
}

// New creates a pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// ProcessBatch enriches and routes every ticket of a batch, in CSV row order.
// A ticket failure is recorded and the batch continues; only missing batch
// data aborts the run.
func (p *Pipeline) ProcessBatch(ctx context.Context, batchID uuid.UUID) error {
	d := p.deps
	log := d.Logger.With(slog.String("batch_id", batchID.String()))

	batch, err := d.Batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	tickets, err := d.Tickets.ListByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load tickets: %w", err)
	}
	if len(tickets) == 0 {
		log.Warn("batch has no tickets")
		return d.Batches.Finish(ctx, batchID, models.BatchCompleted, 0, 0, nil)
	}
	managers, err := d.Managers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load managers: %w", err)
	}
	offices, err := d.Offices.List(ctx)
	if err != nil {
		return fmt.Errorf("load offices: %w", err)
	}

	router := routing.NewRouter(managers, offices)
	alternator := geo.NewAlternator() // batch-scoped foreign/fallback alternation

	// Repeat-client counts are built over the whole batch before any ticket
	// runs, so late rows see early rows of the same client.
	guids := make([]string, 0, len(tickets))
	for _, t := range tickets {
		if t.GUID != "" {
			guids = append(guids, t.GUID)
		}
	}
	guidCounts := priority.BuildGUIDCounter(guids)

	if err := d.Batches.SetStatus(ctx, batchID, models.BatchProcessing); err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}
	d.Progress.Start(batchID, len(tickets))
	channel := events.BatchChannel(batchID)
	d.Bus.Publish(channel, events.Event{
		EventType: events.EventTypeBatchStarted,
		Stage:     string(models.StagePipeline),
		Status:    string(models.StageInProgress),
		BatchID:   batchID,
		Message:   fmt.Sprintf("Processing %d tickets", len(tickets)),
	})

	log.Info("batch started",
		slog.String("filename", batch.Filename), slog.Int("tickets", len(tickets)))
	start := time.Now()

	var errorLog models.StringList
	spamCount, failedCount := 0, 0
	for i, t := range tickets {
		d.Progress.SetCurrentRow(batchID, t.CSVRowIndex)
		outcome := p.processTicket(ctx, t, router, alternator, guidCounts, len(tickets))
		d.Progress.Append(batchID, outcome)
		d.Bus.Publish(channel, events.Event{
			EventType: events.EventTypeTicketCompleted,
			Stage:     string(models.StageEnrichment),
			Status:    string(models.StageCompleted),
			BatchID:   batchID,
			TicketID:  &t.ID,
			Message:   outcome.Status,
		})

		switch outcome.Status {
		case "spam":
			spamCount++
		case "failed":
			failedCount++
			errorLog = append(errorLog,
				fmt.Sprintf("row %d: %s", t.CSVRowIndex, outcome.Error))
		}
		// processed_rows counts successes only; processed + failed never
		// exceeds the batch total.
		if err := d.Batches.SetProgress(ctx, batchID, i+1-failedCount, failedCount); err != nil {
			log.Warn("failed to update batch progress", slog.Any("error", err))
		}
	}

	// Persist final loads so the report survives restarts.
	for id, load := range router.Loads() {
		if err := d.Managers.SetStressScore(ctx, id, load); err != nil {
			log.Warn("failed to persist manager load",
				slog.String("manager_id", id.String()), slog.Any("error", err))
		}
	}

	status := models.BatchCompleted
	if failedCount > 0 {
		status = models.BatchCompletedWithErrors
	}
	if err := d.Batches.Finish(ctx, batchID, status, len(tickets)-failedCount, failedCount, errorLog); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	d.Progress.Finish(batchID, string(status))
	d.Bus.Publish(channel, events.Event{
		EventType: events.EventTypePipelineCompleted,
		Stage:     string(models.StagePipeline),
		Status:    string(models.StageCompleted),
		BatchID:   batchID,
		Message: fmt.Sprintf("Batch processing complete: %d tickets (%d spam)",
			len(tickets), spamCount),
		Data: mustJSON(map[string]int{
			"total":     len(tickets),
			"processed": len(tickets),
			"spam":      spamCount,
			"enriched":  len(tickets) - spamCount - failedCount,
		}),
	})
	log.Info("batch done",
		slog.Int("tickets", len(tickets)), slog.Int("spam", spamCount),
		slog.Int("failed", failedCount), slog.Duration("elapsed", time.Since(start)))
	return nil
}

// processTicket is the per-ticket recover boundary. A panic in any stage is
// recorded as a failed outcome; the batch keeps going.
func (p *Pipeline) processTicket(ctx context.Context, t *models.Ticket,
	router *routing.Router, alternator *geo.Alternator,
	guidCounts map[string]int, totalRows int) (outcome events.TicketOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.deps.Logger.Error("ticket processing panic",
				slog.String("ticket_id", t.ID.String()), slog.Any("panic", r))
			outcome = events.TicketOutcome{
				TicketID:    t.ID,
				CSVRowIndex: t.CSVRowIndex,
				Status:      "failed",
				IsComplete:  true,
				Error:       fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	out, err := p.runTicket(ctx, t, router, alternator, guidCounts, totalRows)
	if err != nil {
		p.deps.Logger.Error("ticket processing failed",
			slog.String("ticket_id", t.ID.String()), slog.Any("error", err))
		return events.TicketOutcome{
			TicketID:    t.ID,
			CSVRowIndex: t.CSVRowIndex,
			Status:      "failed",
			IsComplete:  true,
			Error:       err.Error(),
		}
	}
	return out
}

func (p *Pipeline) runTicket(ctx context.Context, t *models.Ticket,
	router *routing.Router, alternator *geo.Alternator,
	guidCounts map[string]int, totalRows int) (events.TicketOutcome, error) {
	d := p.deps
	log := d.Logger.With(
		slog.String("ticket_id", t.ID.String()), slog.Int("row", t.CSVRowIndex))
	channel := events.BatchChannel(t.BatchID)

	// Stage A: spam prefilter on the raw text. An empty body is spam even
	// when attachments are present.
	spamDone := p.withState(ctx, t, models.StageSpamFilter)
	verdict := d.Spam.Check(ctx, t.Description)
	t.IsSpam = verdict.IsSpam
	t.SpamProbability = verdict.Probability
	spamDone(fmt.Sprintf("is_spam=%t probability=%.2f reason=%s",
		verdict.IsSpam, verdict.Probability, verdict.Reason), nil)
	p.publishStage(channel, t, models.StageSpamFilter, models.StageCompleted, verdict)

	if verdict.IsSpam {
		t.TicketType = models.TypeSpam
		t.Status = models.StatusEnriched
		if err := d.Analyses.Upsert(ctx, &models.AIAnalysis{
			TicketID:     t.ID,
			DetectedType: models.TypeSpam,
			Sentiment:    models.SentimentNeutral,
			Priority:     priority.Spam(),
		}); err != nil {
			return events.TicketOutcome{}, fmt.Errorf("store spam analysis: %w", err)
		}
		if err := d.Tickets.Update(ctx, t); err != nil {
			return events.TicketOutcome{}, fmt.Errorf("update spam ticket: %w", err)
		}
		log.Info("ticket is spam, skipping enrichment",
			slog.Float64("probability", verdict.Probability))
		return events.TicketOutcome{
			TicketID:    t.ID,
			CSVRowIndex: t.CSVRowIndex,
			Status:      "spam",
			Type:        string(models.TypeSpam),
			Priority:    priority.Spam().Final,
			IsSpam:      true,
			IsComplete:  true,
		}, nil
	}

	// Stage B: PII anonymization. On failure the raw text goes downstream;
	// the LLM prompt forbids echoing personal data either way.
	piiDone := p.withState(ctx, t, models.StagePII)
	piiRes, piiErr := pii.Anonymize(t.Description)
	if piiErr != nil {
		piiDone("", piiErr)
		log.Warn("pii anonymization failed", slog.Any("error", piiErr))
	} else {
		t.DescriptionAnonymized = piiRes.AnonymizedText
		t.Status = models.StatusPIIStripped
		if mappings := piiRes.Mappings(t.ID); len(mappings) > 0 {
			if err := d.PII.CreateMany(ctx, mappings); err != nil {
				return events.TicketOutcome{}, fmt.Errorf("store pii mappings: %w", err)
			}
		}
		piiDone(fmt.Sprintf("entities_found=%d", len(piiRes.Detections)), nil)
	}
	p.publishStage(channel, t, models.StagePII, models.StageCompleted, nil)

	text := t.DescriptionAnonymized
	if text == "" {
		text = t.Description
	}

	// Stages C, D, E run concurrently; each fails soft to its default.
	var (
		analysis  *llm.AnalysisResult
		analysErr error
		tone      *llm.SentimentResult
		toneErr   error
		geoRes    *geo.Resolution
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverStage(&err, models.StageLLMAnalysis)
		done := p.withState(gctx, t, models.StageLLMAnalysis)
		analysis, analysErr = d.Classify.Analyze(gctx, llm.AnalyzeRequest{
			Text:        text,
			Age:         t.Age,
			Segment:     t.Segment,
			Attachments: t.Attachments,
		})
		if analysErr != nil {
			analysis = llm.DefaultAnalysis(d.Config.LLMModel, 0, analysErr)
		}
		done(fmt.Sprintf("type=%s language=%s", analysis.Type, analysis.LanguageLabel), analysErr)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverStage(&err, models.StageSentiment)
		done := p.withState(gctx, t, models.StageSentiment)
		tone, toneErr = d.Sentiment.Analyze(gctx, text)
		if toneErr != nil {
			tone = llm.DefaultSentiment(0)
		}
		done(fmt.Sprintf("sentiment=%s confidence=%.2f", tone.Sentiment, tone.Confidence), toneErr)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverStage(&err, models.StageGeocoding)
		done := p.withState(gctx, t, models.StageGeocoding)
		geoRes = d.Geocode.Resolve(gctx, geo.Address{
			Country: t.Country,
			Region:  t.Region,
			City:    t.City,
			Street:  t.Street,
			House:   t.House,
		}, alternator)
		done(fmt.Sprintf("provider=%s status=%s", geoRes.Provider, geoRes.Status), nil)
		return nil
	})
	// Stage errors fail soft to defaults inside each goroutine; only a
	// panic propagates, failing the ticket.
	if err := g.Wait(); err != nil {
		return events.TicketOutcome{}, err
	}

	p.publishStage(channel, t, models.StageLLMAnalysis, stageStatus(analysErr), nil)
	p.publishStage(channel, t, models.StageSentiment, stageStatus(toneErr), nil)
	p.publishStage(channel, t, models.StageGeocoding, models.StageCompleted, nil)

	// Merge. The dashboard summary is rehydrated; the anonymized variant is
	// kept for export.
	if geoRes.Point != nil {
		lat, lon := geoRes.Point.Lat, geoRes.Point.Lon
		t.Latitude, t.Longitude = &lat, &lon
	}
	t.AddressStatus = geoRes.Status
	t.GeoExplanation = geoRes.Explanation
	t.TicketType = analysis.Type

	summary := analysis.Summary
	if mappings, err := d.PII.ListByTicket(ctx, t.ID); err == nil && len(mappings) > 0 {
		summary = pii.Rehydrate(summary, mappings)
	}

	prioDone := p.withState(ctx, t, models.StagePriority)
	breakdown := priority.Compute(priority.Input{
		Segment:     t.Segment,
		Type:        analysis.Type,
		Sentiment:   tone.Sentiment,
		Age:         t.Age,
		CSVRowIndex: t.CSVRowIndex,
		TotalRows:   totalRows,
		GUIDCount:   guidCounts[t.GUID],
		IsExpansion: d.Config.IsExpansionCountry(t.Country),
	})
	prioDone(fmt.Sprintf("final=%.2f", breakdown.Final), nil)
	p.publishStage(channel, t, models.StagePriority, models.StageCompleted, breakdown)

	record := &models.AIAnalysis{
		TicketID:             t.ID,
		DetectedType:         analysis.Type,
		LanguageLabel:        analysis.LanguageLabel,
		LanguageActual:       analysis.LanguageActual,
		LanguageIsMixed:      analysis.LanguageIsMixed,
		LanguageNote:         analysis.LanguageNote,
		Summary:              summary,
		SummaryAnonymized:    analysis.Summary,
		AttachmentAnalysis:   analysis.AttachmentAnalysis,
		Explanation:          analysis.Explanation,
		Sentiment:            tone.Sentiment,
		SentimentConfidence:  tone.Confidence,
		NeedsDataChange:      analysis.NeedsDataChange,
		NeedsLocationRouting: analysis.NeedsLocationRouting,
		Priority:             breakdown,
		LLMModel:             analysis.Model,
		ProcessingTimeMs:     analysis.Elapsed.Milliseconds(),
	}
	if err := d.Analyses.Upsert(ctx, record); err != nil {
		return events.TicketOutcome{}, fmt.Errorf("store analysis: %w", err)
	}
	t.Status = models.StatusEnriched

	// Stage G: routing. A failure here leaves the ticket enriched but
	// unassigned; that is an outcome, not an error.
	routeDone := p.withState(ctx, t, models.StageRouting)
	managerName := ""
	decision, routeErr := router.Route(routing.Request{
		TicketID:      t.ID,
		Segment:       t.Segment,
		Type:          analysis.Type,
		LanguageLabel: analysis.LanguageLabel,
		Latitude:      t.Latitude,
		Longitude:     t.Longitude,
		PriorityFinal: breakdown.Final,
	})
	if routeErr != nil {
		routeDone("", routeErr)
		log.Warn("routing failed", slog.Any("error", routeErr))
		p.publishStage(channel, t, models.StageRouting, models.StageFailed, nil)
	} else {
		assignment := &models.Assignment{
			ID:          uuid.New(),
			TicketID:    t.ID,
			ManagerID:   decision.Manager.ID,
			Explanation: decision.Explanation,
			Details: models.RoutingDetails{
				DistanceKm:     decision.DistanceKm,
				Difficulty:     decision.Difficulty,
				LoadAfter:      decision.LoadAfter,
				Relaxations:    decision.Relaxations,
				GeoFilterNote:  decision.GeoFilterNote,
				PriorityFinal:  breakdown.Final,
				CandidatesSeen: decision.CandidatesSeen,
				CandidatesLeft: decision.CandidatesLeft,
			},
		}
		if decision.Office != nil {
			officeID := decision.Office.ID
			assignment.OfficeID = &officeID
			assignment.Details.OfficeName = decision.Office.Name
		}
		if err := d.Assignments.Create(ctx, assignment); err != nil {
			return events.TicketOutcome{}, fmt.Errorf("store assignment: %w", err)
		}
		managerID := decision.Manager.ID
		t.AssignedManagerID = &managerID
		t.Status = models.StatusRouted
		managerName = decision.Manager.FullName
		routeDone(fmt.Sprintf("manager=%s load_after=%.2f", managerName, decision.LoadAfter), nil)
		p.publishStage(channel, t, models.StageRouting, models.StageCompleted, assignment.Details)
	}

	if err := d.Tickets.Update(ctx, t); err != nil {
		return events.TicketOutcome{}, fmt.Errorf("update ticket: %w", err)
	}

	log.Info("ticket enriched",
		slog.String("type", string(analysis.Type)),
		slog.String("sentiment", string(tone.Sentiment)),
		slog.Float64("priority", breakdown.Final),
		slog.Bool("routed", routeErr == nil))
	return events.TicketOutcome{
		TicketID:    t.ID,
		CSVRowIndex: t.CSVRowIndex,
		Status:      "enriched",
		Type:        string(analysis.Type),
		Sentiment:   string(tone.Sentiment),
		Summary:     summary,
		Latitude:    t.Latitude,
		Longitude:   t.Longitude,
		Priority:    breakdown.Final,
		ManagerName: managerName,
		IsComplete:  true,
	}, nil
}

// recoverStage turns a panic inside a fan-out goroutine into a ticket error.
// The per-ticket boundary in processTicket only covers its own goroutine.
func recoverStage(err *error, stage models.Stage) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s stage panic: %v", stage, r)
	}
}

// withState opens a processing_state row and returns a closure that finishes
// it. Audit failures are logged, never fatal.
func (p *Pipeline) withState(ctx context.Context, t *models.Ticket,
	stage models.Stage) func(message string, cause error) {
	id, err := p.deps.States.Start(ctx, t.ID, t.BatchID, stage)
	if err != nil {
		p.deps.Logger.Warn("failed to open stage state",
			slog.String("stage", string(stage)), slog.Any("error", err))
		return func(string, error) {}
	}
	return func(message string, cause error) {
		status := models.StageCompleted
		detail := ""
		if cause != nil {
			status = models.StageFailed
			detail = cause.Error()
		}
		if err := p.deps.States.Finish(ctx, id, status, message, detail); err != nil {
			p.deps.Logger.Warn("failed to close stage state",
				slog.String("stage", string(stage)), slog.Any("error", err))
		}
	}
}

func (p *Pipeline) publishStage(channel string, t *models.Ticket,
	stage models.Stage, status models.StageStatus, data any) {
	ev := events.Event{
		EventType: events.EventTypeStageUpdate,
		Stage:     string(stage),
		Status:    string(status),
		BatchID:   t.BatchID,
		TicketID:  &t.ID,
	}
	if data != nil {
		ev.Data = mustJSON(data)
	}
	p.deps.Bus.Publish(channel, ev)
}

func stageStatus(err error) models.StageStatus {
	if err != nil {
		return models.StageFailed
	}
	return models.StageCompleted
}

// mustJSON marshals event payloads built from our own types; marshal failure
// means a programming error, so the payload is dropped rather than the event.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
