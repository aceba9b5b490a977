package events

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(discard{}, nil)))
}

func TestBus_PublishReachesSubscriber(t *testing.T) {
	bus := testBus()
	batchID := uuid.New()
	ch := BatchChannel(batchID)

	sub := bus.Subscribe(ch)
	defer bus.Unsubscribe(sub)

	bus.Publish(ch, Event{
		EventType: EventTypeStageUpdate,
		Stage:     string(models.StageSpamFilter),
		Status:    string(models.StageInProgress),
		BatchID:   batchID,
	})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventTypeStageUpdate, ev.EventType)
		assert.Equal(t, string(models.StageSpamFilter), ev.Stage)
		assert.False(t, ev.Timestamp.IsZero(), "publish stamps the event")
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_ChannelsAreIsolated(t *testing.T) {
	bus := testBus()
	a := bus.Subscribe("batch:a")
	b := bus.Subscribe("batch:b")
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Publish("batch:a", Event{EventType: EventTypeBatchStarted})

	select {
	case <-a.Events():
	case <-time.After(time.Second):
		t.Fatal("subscriber on batch:a got nothing")
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("subscriber on batch:b got %q", ev.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := testBus()
	sub := bus.Subscribe("batch:x")
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // idempotent

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Zero(t, bus.SubscriberCount("batch:x"))
}

func TestBus_SlowSubscriberIsDropped(t *testing.T) {
	bus := testBus()
	sub := bus.Subscribe("batch:slow")

	// Never read: fill the buffer, then one more publish evicts us.
	for i := 0; i < subscriberBuffer+1; i++ {
		bus.Publish("batch:slow", Event{EventType: EventTypeStageUpdate})
	}
	assert.Zero(t, bus.SubscriberCount("batch:slow"))

	// Buffered events remain readable, then the channel closes.
	n := 0
	for range sub.Events() {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
}

func TestBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := testBus()
	ch := "batch:churn"

	// A disconnecting client must never panic a publisher, no matter how the
	// send and the channel close interleave.
	for i := 0; i < 2000; i++ {
		sub := bus.Subscribe(ch)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Publish(ch, Event{EventType: EventTypeStageUpdate})
		}()
		go func() {
			defer wg.Done()
			bus.Unsubscribe(sub)
		}()
		wg.Wait()
	}
	assert.Zero(t, bus.SubscriberCount(ch))
}

func TestProgressTracker_Counters(t *testing.T) {
	tr := NewProgressTracker()
	batchID := uuid.New()
	tr.Start(batchID, 3)

	tr.Append(batchID, TicketOutcome{CSVRowIndex: 0, Status: "enriched", Priority: 6.5})
	tr.Append(batchID, TicketOutcome{CSVRowIndex: 1, Status: "spam"})
	tr.Append(batchID, TicketOutcome{CSVRowIndex: 2, Status: "failed", Error: "llm timeout"})
	tr.Finish(batchID, "completed")

	s := tr.Get(batchID)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 3, s.Processed)
	assert.Equal(t, 1, s.Spam)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, "completed", s.Status)
	assert.NotNil(t, s.FinishedAt)
	assert.Len(t, s.Results, 3)
}

func TestProgressTracker_GetReturnsCopy(t *testing.T) {
	tr := NewProgressTracker()
	batchID := uuid.New()
	tr.Start(batchID, 2)
	tr.Append(batchID, TicketOutcome{Status: "enriched"})

	s := tr.Get(batchID)
	s.Results[0].Status = "mutated"
	s.Processed = 99

	fresh := tr.Get(batchID)
	assert.Equal(t, "enriched", fresh.Results[0].Status)
	assert.Equal(t, 1, fresh.Processed)
}

func TestProgressTracker_UnknownBatch(t *testing.T) {
	tr := NewProgressTracker()
	assert.Nil(t, tr.Get(uuid.New()))
	tr.Append(uuid.New(), TicketOutcome{}) // no panic
}
