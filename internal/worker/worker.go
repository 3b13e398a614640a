// Package worker runs queued analysis requests from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/ringwatch/internal/analyzer"
	"github.com/opensource-finance/ringwatch/internal/domain"
)

// AnalysisMessage is the payload of TopicAnalysisRequested.
type AnalysisMessage struct {
	AnalysisID   string               `json:"analysis_id"`
	TenantID     string               `json:"tenant_id"`
	TraceID      string               `json:"trace_id,omitempty"`
	Transactions []domain.Transaction `json:"transactions"`
}

// Worker analyses batches asynchronously from the EventBus.
type Worker struct {
	bus     domain.EventBus
	service *analyzer.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = shared queue)
	TenantIDs []string

	// WorkerCount bounds concurrent analyses across all subscriptions
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, service *analyzer.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	w.sem = make(chan struct{}, workers)

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"worker_count", workers,
	)

	return nil
}

// startGlobalWorker consumes the shared queue that the API publishes to.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.QueueTenantID, domain.TopicAnalysisRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.addSubscription(sub)

	slog.Info("global worker started", "topic", domain.TopicAnalysisRequested)
	return nil
}

// startTenantWorker consumes requests published under one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processAnalysis(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.addSubscription(sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicAnalysisRequested,
	)

	return nil
}

func (w *Worker) addSubscription(sub domain.Subscription) {
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
}

// handleMessage handles messages from the shared queue.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processAnalysis(ctx, "", msg)
}

// processAnalysis decodes one request and runs it through the analyzer.
func (w *Worker) processAnalysis(ctx context.Context, tenantID string, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	w.sem <- struct{}{}        // Acquire
	defer func() { <-w.sem }() // Release

	var req AnalysisMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse analysis message",
			"message_id", msg.ID,
			"error", err,
		)
		return fmt.Errorf("failed to parse analysis message: %w", err)
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing analysis",
		"analysis_id", req.AnalysisID,
		"tenant_id", tenantID,
		"trace_id", traceID,
		"transactions", len(req.Transactions),
	)

	_, err := w.service.Analyze(ctx, analyzer.Request{
		AnalysisID:   req.AnalysisID,
		TenantID:     tenantID,
		TraceID:      traceID,
		Transactions: req.Transactions,
	})
	if err != nil {
		w.failed.Add(1)
		slog.Error("queued analysis failed",
			"analysis_id", req.AnalysisID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
