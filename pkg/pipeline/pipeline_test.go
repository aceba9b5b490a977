package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/freedomfin/fireroute/pkg/config"
	"github.com/freedomfin/fireroute/pkg/events"
	"github.com/freedomfin/fireroute/pkg/geo"
	"github.com/freedomfin/fireroute/pkg/llm"
	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/freedomfin/fireroute/pkg/spam"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

// ── fakes ──

type progressCall struct {
	processed int
	failed    int
}

type fakeBatchStore struct {
	mu             sync.Mutex
	batch          *models.Batch
	statuses       []models.BatchStatus
	progress       []progressCall
	final          models.BatchStatus
	finalProcessed int
	finalFailed    int
	errorLog       models.StringList
}

func (f *fakeBatchStore) GetByID(_ context.Context, id uuid.UUID) (*models.Batch, error) {
	if f.batch == nil || f.batch.ID != id {
		return nil, fmt.Errorf("batch not found")
	}
	return f.batch, nil
}

func (f *fakeBatchStore) SetStatus(_ context.Context, _ uuid.UUID, status models.BatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeBatchStore) SetProgress(_ context.Context, _ uuid.UUID, processed, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progressCall{processed: processed, failed: failed})
	return nil
}

func (f *fakeBatchStore) Finish(_ context.Context, _ uuid.UUID, status models.BatchStatus,
	processed, failed int, errorLog models.StringList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.final = status
	f.finalProcessed = processed
	f.finalFailed = failed
	f.errorLog = errorLog
	return nil
}

type fakeTicketStore struct {
	mu      sync.Mutex
	tickets []*models.Ticket
	updated map[uuid.UUID]*models.Ticket
}

func (f *fakeTicketStore) ListByBatch(context.Context, uuid.UUID) ([]*models.Ticket, error) {
	return f.tickets, nil
}

func (f *fakeTicketStore) Update(_ context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = make(map[uuid.UUID]*models.Ticket)
	}
	cp := *t
	f.updated[t.ID] = &cp
	return nil
}

type fakeManagerStore struct {
	managers []*models.Manager
	mu       sync.Mutex
	stress   map[uuid.UUID]float64
}

func (f *fakeManagerStore) ListActive(context.Context) ([]*models.Manager, error) {
	return f.managers, nil
}

func (f *fakeManagerStore) SetStressScore(_ context.Context, id uuid.UUID, stress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stress == nil {
		f.stress = make(map[uuid.UUID]float64)
	}
	f.stress[id] = stress
	return nil
}

type fakeOfficeStore struct{ offices []*models.Office }

func (f *fakeOfficeStore) List(context.Context) ([]*models.Office, error) {
	return f.offices, nil
}

type fakeAnalysisStore struct {
	mu       sync.Mutex
	byTicket map[uuid.UUID]*models.AIAnalysis
}

func (f *fakeAnalysisStore) Upsert(_ context.Context, a *models.AIAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byTicket == nil {
		f.byTicket = make(map[uuid.UUID]*models.AIAnalysis)
	}
	cp := *a
	f.byTicket[a.TicketID] = &cp
	return nil
}

type fakeAssignmentStore struct {
	mu      sync.Mutex
	created []*models.Assignment
}

func (f *fakeAssignmentStore) Create(_ context.Context, a *models.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, a)
	return nil
}

type fakePIIStore struct {
	mu       sync.Mutex
	byTicket map[uuid.UUID][]*models.PIIMapping
}

func (f *fakePIIStore) CreateMany(_ context.Context, mappings []*models.PIIMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byTicket == nil {
		f.byTicket = make(map[uuid.UUID][]*models.PIIMapping)
	}
	for _, m := range mappings {
		f.byTicket[m.TicketID] = append(f.byTicket[m.TicketID], m)
	}
	return nil
}

func (f *fakePIIStore) ListByTicket(_ context.Context, ticketID uuid.UUID) ([]*models.PIIMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTicket[ticketID], nil
}

type stateRow struct {
	stage  models.Stage
	status models.StageStatus
	detail string
}

type fakeStateStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*stateRow
	seen []stateRow
}

func (f *fakeStateStore) Start(_ context.Context, _, _ uuid.UUID, stage models.Stage) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[uuid.UUID]*stateRow)
	}
	id := uuid.New()
	f.rows[id] = &stateRow{stage: stage, status: models.StageInProgress}
	return id, nil
}

func (f *fakeStateStore) Finish(_ context.Context, id uuid.UUID, status models.StageStatus, _, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.status = status
	row.detail = detail
	f.seen = append(f.seen, *row)
	return nil
}

func (f *fakeStateStore) byStage(stage models.Stage) []stateRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []stateRow
	for _, r := range f.seen {
		if r.stage == stage {
			out = append(out, r)
		}
	}
	return out
}

type fakeClassifier struct {
	fn func(req llm.AnalyzeRequest) (*llm.AnalysisResult, error)
}

func (f *fakeClassifier) Analyze(_ context.Context, req llm.AnalyzeRequest) (*llm.AnalysisResult, error) {
	return f.fn(req)
}

type fakeSentiment struct {
	result *llm.SentimentResult
	err    error
}

func (f *fakeSentiment) Analyze(context.Context, string) (*llm.SentimentResult, error) {
	return f.result, f.err
}

type fakeGeocoder struct {
	resolution *geo.Resolution
}

func (f *fakeGeocoder) Resolve(context.Context, geo.Address, *geo.Alternator) *geo.Resolution {
	return f.resolution
}

// ── fixture ──

type fixture struct {
	batches     *fakeBatchStore
	tickets     *fakeTicketStore
	managers    *fakeManagerStore
	offices     *fakeOfficeStore
	analyses    *fakeAnalysisStore
	assignments *fakeAssignmentStore
	pii         *fakePIIStore
	states      *fakeStateStore
	bus         *events.Bus
	progress    *events.ProgressTracker
	pipeline    *Pipeline
	batchID     uuid.UUID
}

func lat(v float64) *float64 { return &v }

func newFixture(t *testing.T, tickets []*models.Ticket, classify Classifier) *fixture {
	t.Helper()
	batchID := uuid.New()
	for _, tk := range tickets {
		tk.BatchID = batchID
	}

	officeID := uuid.New()
	office := &models.Office{
		ID: officeID, Name: "Астана ЦО", Latitude: lat(51.1694), Longitude: lat(71.4491),
	}
	manager := &models.Manager{
		ID: uuid.New(), FullName: "Сапарова Айгуль",
		Position: models.PositionSpecialist, OfficeID: &officeID, IsActive: true,
	}

	f := &fixture{
		batches: &fakeBatchStore{batch: &models.Batch{
			ID: batchID, Filename: "tickets.csv", TotalRows: len(tickets),
		}},
		tickets:     &fakeTicketStore{tickets: tickets},
		managers:    &fakeManagerStore{managers: []*models.Manager{manager}},
		offices:     &fakeOfficeStore{offices: []*models.Office{office}},
		analyses:    &fakeAnalysisStore{},
		assignments: &fakeAssignmentStore{},
		pii:         &fakePIIStore{},
		states:      &fakeStateStore{},
		bus:         events.NewBus(testLogger()),
		progress:    events.NewProgressTracker(),
		batchID:     batchID,
	}

	if classify == nil {
		classify = &fakeClassifier{fn: func(llm.AnalyzeRequest) (*llm.AnalysisResult, error) {
			return &llm.AnalysisResult{
				Type:           models.TypeConsultation,
				LanguageLabel:  models.LanguageRU,
				LanguageActual: "russian",
				Summary:        "Клиент просит консультацию.",
				Model:          "test-model",
			}, nil
		}}
	}

	cfg := &config.Config{
		LLMModel:           "test-model",
		SpamThreshold:      0.5,
		ExpansionCountries: []string{"Германия", "Germany"},
	}
	f.pipeline = New(Deps{
		Batches:     f.batches,
		Tickets:     f.tickets,
		Managers:    f.managers,
		Offices:     f.offices,
		Analyses:    f.analyses,
		Assignments: f.assignments,
		PII:         f.pii,
		States:      f.states,
		Spam:        spam.New(nil, cfg.SpamThreshold, testLogger()),
		Classify:    classify,
		Sentiment: &fakeSentiment{result: &llm.SentimentResult{
			Sentiment: models.SentimentNeutral, Confidence: 0.8,
		}},
		Geocode: &fakeGeocoder{resolution: &geo.Resolution{
			Point:    &geo.Point{Lat: 51.12, Lon: 71.43},
			Provider: "2gis",
			Status:   models.AddressResolved,
		}},
		Bus:      f.bus,
		Progress: f.progress,
		Config:   cfg,
		Logger:   testLogger(),
	})
	return f
}

func newTicket(row int, description string) *models.Ticket {
	return &models.Ticket{
		ID:          uuid.New(),
		CSVRowIndex: row,
		GUID:        fmt.Sprintf("g-%d", row),
		Segment:     models.SegmentMass,
		Description: description,
		Country:     "Казахстан",
		City:        "Астана",
		Status:      models.StatusIngested,
	}
}

// ── tests ──

func TestProcessBatch_EnrichesAndRoutes(t *testing.T) {
	ticket := newTicket(0, "Прошу проконсультировать по тарифам, мой номер +7 701 123 45 67")
	f := newFixture(t, []*models.Ticket{ticket}, &fakeClassifier{
		fn: func(req llm.AnalyzeRequest) (*llm.AnalysisResult, error) {
			// The classifier must not see the raw phone number.
			assert.NotContains(t, req.Text, "+7 701 123 45 67")
			assert.Contains(t, req.Text, "[PHONE_1]")
			return &llm.AnalysisResult{
				Type:           models.TypeConsultation,
				LanguageLabel:  models.LanguageRU,
				LanguageActual: "russian",
				Summary:        "Клиент [PHONE_1] просит консультацию по тарифам.",
				Model:          "test-model",
			}, nil
		},
	})

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	updated := f.tickets.updated[ticket.ID]
	require.NotNil(t, updated)
	assert.Equal(t, models.StatusRouted, updated.Status)
	assert.Equal(t, models.TypeConsultation, updated.TicketType)
	assert.False(t, updated.IsSpam)
	require.NotNil(t, updated.Latitude)
	assert.Equal(t, 51.12, *updated.Latitude)
	assert.Equal(t, models.AddressResolved, updated.AddressStatus)
	require.NotNil(t, updated.AssignedManagerID)

	analysis := f.analyses.byTicket[ticket.ID]
	require.NotNil(t, analysis)
	assert.Contains(t, analysis.Summary, "+7 701 123 45 67", "summary is rehydrated")
	assert.Contains(t, analysis.SummaryAnonymized, "[PHONE_1]")
	assert.Equal(t, models.SentimentNeutral, analysis.Sentiment)
	assert.Greater(t, analysis.Priority.Final, 0.0)

	require.Len(t, f.assignments.created, 1)
	a := f.assignments.created[0]
	assert.Equal(t, ticket.ID, a.TicketID)
	assert.Equal(t, "Астана ЦО", a.Details.OfficeName)
	assert.Contains(t, a.Explanation, "Сапарова Айгуль")

	assert.Equal(t, models.BatchCompleted, f.batches.final)
	snap := f.progress.Get(f.batchID)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Processed)
	assert.Zero(t, snap.Spam)
	assert.NotEmpty(t, f.managers.stress, "final loads are persisted")
}

func TestProcessBatch_SpamShortCircuits(t *testing.T) {
	spamTicket := newTicket(0, "ok") // under three runes: structural spam
	classifierRan := false
	f := newFixture(t, []*models.Ticket{spamTicket}, &fakeClassifier{
		fn: func(llm.AnalyzeRequest) (*llm.AnalysisResult, error) {
			classifierRan = true
			return nil, fmt.Errorf("must not be called")
		},
	})

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))
	assert.False(t, classifierRan, "classifier must not run for spam")

	updated := f.tickets.updated[spamTicket.ID]
	require.NotNil(t, updated)
	assert.True(t, updated.IsSpam)
	assert.Equal(t, models.TypeSpam, updated.TicketType)
	assert.Equal(t, models.StatusEnriched, updated.Status)
	assert.Nil(t, updated.AssignedManagerID)

	analysis := f.analyses.byTicket[spamTicket.ID]
	require.NotNil(t, analysis)
	assert.Equal(t, 1.0, analysis.Priority.Final)

	assert.Empty(t, f.assignments.created)
	snap := f.progress.Get(f.batchID)
	assert.Equal(t, 1, snap.Spam)
}

func TestProcessBatch_ClassifierFailureFallsBack(t *testing.T) {
	ticket := newTicket(0, "Расскажите пожалуйста про условия обслуживания")
	f := newFixture(t, []*models.Ticket{ticket}, &fakeClassifier{
		fn: func(llm.AnalyzeRequest) (*llm.AnalysisResult, error) {
			return nil, fmt.Errorf("upstream 500")
		},
	})

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	updated := f.tickets.updated[ticket.ID]
	require.NotNil(t, updated)
	assert.Equal(t, models.TypeConsultation, updated.TicketType, "safe default type")
	assert.Equal(t, models.StatusRouted, updated.Status, "fallback tickets still route")

	rows := f.states.byStage(models.StageLLMAnalysis)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StageFailed, rows[0].status)
	assert.Contains(t, rows[0].detail, "upstream 500")

	assert.Equal(t, models.BatchCompleted, f.batches.final,
		"stage fallback is not a ticket failure")
}

func TestProcessBatch_RoutingFailureLeavesTicketEnriched(t *testing.T) {
	ticket := newTicket(0, "Обращение без адреса, прошу помочь с приложением")
	f := newFixture(t, []*models.Ticket{ticket}, nil)
	// No coordinates: routing must fail, enrichment must survive.
	f.pipeline.deps.Geocode = &fakeGeocoder{resolution: &geo.Resolution{
		Status: models.AddressUnknown,
	}}

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	updated := f.tickets.updated[ticket.ID]
	require.NotNil(t, updated)
	assert.Equal(t, models.StatusEnriched, updated.Status)
	assert.Nil(t, updated.AssignedManagerID)
	assert.Empty(t, f.assignments.created)

	rows := f.states.byStage(models.StageRouting)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StageFailed, rows[0].status)

	snap := f.progress.Get(f.batchID)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, "enriched", snap.Results[0].Status)
}

func TestProcessBatch_PanicIsIsolatedPerTicket(t *testing.T) {
	bad := newTicket(0, "Этот тикет уронит классификатор своим текстом")
	good := newTicket(1, "А этот тикет должен пройти обработку целиком")
	f := newFixture(t, []*models.Ticket{bad, good}, &fakeClassifier{
		fn: func(req llm.AnalyzeRequest) (*llm.AnalysisResult, error) {
			if req.Text == bad.Description {
				panic("boom")
			}
			return &llm.AnalysisResult{
				Type: models.TypeConsultation, LanguageLabel: models.LanguageRU,
				Summary: "ок", Model: "test-model",
			}, nil
		},
	})

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	assert.Equal(t, models.BatchCompletedWithErrors, f.batches.final)
	require.Len(t, f.batches.errorLog, 1)
	assert.Contains(t, f.batches.errorLog[0], "row 0")

	snap := f.progress.Get(f.batchID)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, "failed", snap.Results[0].Status)
	assert.Equal(t, "enriched", snap.Results[1].Status)

	goodUpdated := f.tickets.updated[good.ID]
	require.NotNil(t, goodUpdated)
	assert.Equal(t, models.StatusRouted, goodUpdated.Status)
}

func TestProcessBatch_CountersStayWithinTotal(t *testing.T) {
	bad := newTicket(0, "Первый тикет обрушит классификатор на этом тексте")
	good := newTicket(1, "Второй тикет обрабатывается как обычно, прошу помочь")
	f := newFixture(t, []*models.Ticket{bad, good}, &fakeClassifier{
		fn: func(req llm.AnalyzeRequest) (*llm.AnalysisResult, error) {
			if req.Text == bad.Description {
				panic("boom")
			}
			return &llm.AnalysisResult{
				Type: models.TypeConsultation, LanguageLabel: models.LanguageRU,
				Summary: "ок", Model: "test-model",
			}, nil
		},
	})

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	// processed_rows counts successes only, so processed + failed can never
	// exceed the batch total at any observation point.
	require.NotEmpty(t, f.batches.progress)
	for _, p := range f.batches.progress {
		assert.LessOrEqual(t, p.processed+p.failed, 2)
		assert.GreaterOrEqual(t, p.processed, 0)
	}
	last := f.batches.progress[len(f.batches.progress)-1]
	assert.Equal(t, progressCall{processed: 1, failed: 1}, last)

	assert.Equal(t, 1, f.batches.finalProcessed)
	assert.Equal(t, 1, f.batches.finalFailed)
	assert.LessOrEqual(t, f.batches.finalProcessed+f.batches.finalFailed, 2)
}

func TestProcessBatch_SnapshotCarriesEnrichment(t *testing.T) {
	ticket := newTicket(0, "Прошу проконсультировать по брокерскому счёту")
	f := newFixture(t, []*models.Ticket{ticket}, nil)

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	snap := f.progress.Get(f.batchID)
	require.Len(t, snap.Results, 1)
	out := snap.Results[0]
	assert.Equal(t, "enriched", out.Status)
	assert.Equal(t, string(models.TypeConsultation), out.Type)
	assert.Equal(t, string(models.SentimentNeutral), out.Sentiment)
	assert.NotEmpty(t, out.Summary)
	require.NotNil(t, out.Latitude)
	assert.Equal(t, 51.12, *out.Latitude)
	require.NotNil(t, out.Longitude)
	assert.Greater(t, out.Priority, 0.0)
	assert.NotEmpty(t, out.ManagerName)
	assert.False(t, out.IsSpam)
	assert.True(t, out.IsComplete)
	assert.Empty(t, out.Error)
}

func TestProcessBatch_ExpansionCountryExtra(t *testing.T) {
	home := newTicket(0, "Обычное обращение клиента из Казахстана, прошу помочь")
	abroad := newTicket(1, "Обращение клиента переехавшего в другую страну, прошу помочь")
	abroad.Country = "Германия"
	f := newFixture(t, []*models.Ticket{home, abroad}, nil)

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	require.NotNil(t, f.analyses.byTicket[home.ID])
	require.NotNil(t, f.analyses.byTicket[abroad.ID])
	assert.Zero(t, f.analyses.byTicket[home.ID].Priority.ExtraExpansion)
	assert.Equal(t, 1.0, f.analyses.byTicket[abroad.ID].Priority.ExtraExpansion)
}

func TestProcessBatch_PublishesLifecycleEvents(t *testing.T) {
	ticket := newTicket(0, "Прошу проконсультировать по открытию счёта")
	f := newFixture(t, []*models.Ticket{ticket}, nil)

	sub := f.bus.Subscribe(events.BatchChannel(f.batchID))
	defer f.bus.Unsubscribe(sub)

	require.NoError(t, f.pipeline.ProcessBatch(context.Background(), f.batchID))

	var types []string
	for {
		select {
		case ev := <-sub.Events():
			types = append(types, ev.EventType)
			if ev.EventType == events.EventTypePipelineCompleted {
				assert.Equal(t, events.EventTypeBatchStarted, types[0])
				assert.Contains(t, types, events.EventTypeTicketCompleted)
				assert.Contains(t, types, events.EventTypeStageUpdate)
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("pipeline_completed never arrived, got %v", types)
		}
	}
}

func TestRunner_ProcessesQueuedBatch(t *testing.T) {
	ticket := newTicket(0, "Проверка фоновой обработки батча, прошу помочь")
	f := newFixture(t, []*models.Ticket{ticket}, nil)

	runner := NewRunner(f.pipeline, 4, testLogger())
	runner.Start(context.Background())
	defer runner.Stop()

	require.NoError(t, runner.Enqueue(f.batchID))
	assert.ErrorIs(t, runner.Enqueue(f.batchID), ErrAlreadyQueued)

	require.Eventually(t, func() bool {
		snap := f.progress.Get(f.batchID)
		return snap != nil && snap.FinishedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	snap := f.progress.Get(f.batchID)
	assert.Equal(t, 1, snap.Processed)

	// Once finished, the batch may be enqueued again.
	require.Eventually(t, func() bool {
		return runner.Enqueue(f.batchID) == nil
	}, time.Second, 10*time.Millisecond)
}
