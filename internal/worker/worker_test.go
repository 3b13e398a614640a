package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/ringwatch/internal/analyzer"
	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
)

func triangle() []domain.Transaction {
	base := time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC)
	pairs := [][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}}
	txs := make([]domain.Transaction, len(pairs))
	for i, p := range pairs {
		txs[i] = domain.Transaction{
			ID:         fmt.Sprintf("TX_%03d", i+1),
			SenderID:   p[0],
			ReceiverID: p[1],
			Amount:     500,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
		}
	}
	return txs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	// Create channel bus
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	service := analyzer.New(pipeline.New(domain.DefaultDetectionConfig()), analyzer.Options{Bus: eventBus})

	t.Run("StartAndStop", func(t *testing.T) {
		worker := NewWorker(eventBus, service)

		err := worker.Start(Config{TenantIDs: []string{"tenant-001"}, WorkerCount: 1})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := worker.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("SharedQueue", func(t *testing.T) {
		w := NewWorker(eventBus, service)
		if err := w.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		var completed atomic.Value
		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Store(msg.Payload)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(20 * time.Millisecond)

		payload, _ := json.Marshal(AnalysisMessage{
			AnalysisID:   "an-queued",
			TenantID:     "tenant-test",
			TraceID:      "trace-001",
			Transactions: triangle(),
		})
		if err := eventBus.Publish(context.Background(), domain.QueueTenantID, domain.TopicAnalysisRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return completed.Load() != nil })

		var event analyzer.CompletedEvent
		if err := json.Unmarshal(completed.Load().([]byte), &event); err != nil {
			t.Fatalf("failed to parse completion: %v", err)
		}
		if event.AnalysisID != "an-queued" {
			t.Errorf("expected analysis id 'an-queued', got '%s'", event.AnalysisID)
		}
		if event.TenantID != "tenant-test" {
			t.Errorf("expected tenant 'tenant-test', got '%s'", event.TenantID)
		}
		if event.TraceID != "trace-001" {
			t.Errorf("expected trace 'trace-001', got '%s'", event.TraceID)
		}
		if event.Summary.FraudRingsDetected != 1 {
			t.Errorf("expected 1 ring, got %d", event.Summary.FraudRingsDetected)
		}
		waitFor(t, func() bool { return w.GetStats().Processed == 1 })
	})

	t.Run("TenantFallback", func(t *testing.T) {
		w := NewWorker(eventBus, service)
		w.Start(Config{TenantIDs: []string{"tenant-b"}})
		defer w.Stop()

		var completed atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-b", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Store(true)
			return nil
		})
		time.Sleep(20 * time.Millisecond)

		// No tenant in the payload: the subscription tenant is used.
		payload, _ := json.Marshal(AnalysisMessage{AnalysisID: "an-b", Transactions: triangle()})
		eventBus.Publish(context.Background(), "tenant-b", domain.TopicAnalysisRequested, payload)

		waitFor(t, completed.Load)
	})

	t.Run("BadPayloadCounted", func(t *testing.T) {
		w := NewWorker(eventBus, service)
		w.Start(Config{TenantIDs: []string{"tenant-bad"}})
		defer w.Stop()
		time.Sleep(20 * time.Millisecond)

		eventBus.Publish(context.Background(), "tenant-bad", domain.TopicAnalysisRequested, []byte("{not json"))
		empty, _ := json.Marshal(AnalysisMessage{AnalysisID: "an-empty"})
		eventBus.Publish(context.Background(), "tenant-bad", domain.TopicAnalysisRequested, empty)

		waitFor(t, func() bool { return w.GetStats().Failed == 2 })
		if got := w.GetStats().Processed; got != 0 {
			t.Errorf("expected 0 processed, got %d", got)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, service)
		w.Start(Config{TenantIDs: []string{"tenant-x", "tenant-y"}})
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}
