// Package analyzer runs a batch through the detection pipeline and the
// surrounding service steps: report cache, alert rules, archive and events.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/ingest"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
	"github.com/opensource-finance/ringwatch/internal/rules"
)

// ErrInvalidRequest is returned for a request that cannot be analysed.
var ErrInvalidRequest = errors.New("invalid analysis request")

// Request is one batch to analyse.
type Request struct {
	AnalysisID   string
	TenantID     string
	TraceID      string
	Transactions []domain.Transaction
}

// CompletedEvent is published on TopicAnalysisCompleted.
type CompletedEvent struct {
	AnalysisID string         `json:"analysis_id"`
	TenantID   string         `json:"tenant_id"`
	TraceID    string         `json:"trace_id,omitempty"`
	Cached     bool           `json:"cached"`
	Summary    domain.Summary `json:"summary"`
	AlertCount int            `json:"alert_count"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// AlertEvent is published on TopicAlert for every raised alert.
type AlertEvent struct {
	AnalysisID string       `json:"analysis_id"`
	TenantID   string       `json:"tenant_id"`
	Alert      domain.Alert `json:"alert"`
}

// Options wires the optional collaborators. Any of them may be nil.
type Options struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Rules      *rules.Engine
	ReportTTL  time.Duration
}

// Service analyses batches.
type Service struct {
	pipeline  *pipeline.Pipeline
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	reportTTL time.Duration
}

// New creates an analysis service around p.
func New(p *pipeline.Pipeline, opts Options) *Service {
	ttl := opts.ReportTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		pipeline:  p,
		repo:      opts.Repository,
		cache:     opts.Cache,
		bus:       opts.Bus,
		engine:    opts.Rules,
		reportTTL: ttl,
	}
}

// Analyze runs one batch. A batch already analysed for the tenant is served
// from the report cache under a fresh analysis id. Archive, cache and event
// failures are logged and never fail the analysis.
func (s *Service) Analyze(ctx context.Context, req Request) (*domain.Report, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidRequest)
	}
	if err := ingest.Validate(req.Transactions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	start := time.Now()
	if req.AnalysisID == "" {
		req.AnalysisID = uuid.New().String()
	}
	hash := BatchHash(req.Transactions)

	report := s.cached(ctx, req.TenantID, hash)
	if report == nil {
		report = s.pipeline.Run(ctx, req.Transactions)
		report.Alerts = s.evaluateAlerts(ctx, req.TenantID, report)

		if s.cache != nil {
			if err := s.cache.SetReport(ctx, req.TenantID, hash, report, s.reportTTL); err != nil {
				slog.Warn("failed to cache report",
					"tenant_id", req.TenantID,
					"batch_hash", hash,
					"error", err,
				)
			}
		}
	}

	report.ID = req.AnalysisID
	report.TenantID = req.TenantID
	report.CreatedAt = time.Now().UTC()
	report.Metadata.TraceID = req.TraceID
	report.Metadata.BatchHash = hash

	if s.repo != nil {
		if err := s.repo.SaveAnalysis(ctx, req.TenantID, report); err != nil {
			slog.Error("failed to archive analysis",
				"analysis_id", report.ID,
				"tenant_id", req.TenantID,
				"error", err,
			)
		}
	}

	s.publish(ctx, report)

	slog.Info("analysis completed",
		"analysis_id", report.ID,
		"tenant_id", req.TenantID,
		"trace_id", req.TraceID,
		"transactions", len(req.Transactions),
		"suspicious", report.Summary.SuspiciousAccountsFlagged,
		"rings", report.Summary.FraudRingsDetected,
		"alerts", len(report.Alerts),
		"cached", report.Metadata.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}

func (s *Service) cached(ctx context.Context, tenantID, hash string) *domain.Report {
	if s.cache == nil {
		return nil
	}
	report, err := s.cache.GetReport(ctx, tenantID, hash)
	if err != nil {
		slog.Warn("report cache lookup failed",
			"tenant_id", tenantID,
			"batch_hash", hash,
			"error", err,
		)
		return nil
	}
	if report != nil {
		report.Metadata.Cached = true
	}
	return report
}

// evaluateAlerts runs the alert rules over every suspicious account and
// keeps the review and fail outcomes.
func (s *Service) evaluateAlerts(ctx context.Context, tenantID string, report *domain.Report) []domain.Alert {
	if s.engine == nil || s.engine.RulesCount() == 0 {
		return nil
	}

	var alerts []domain.Alert
	for _, input := range rules.InputsFromReport(tenantID, report) {
		results, err := s.engine.EvaluateAccount(ctx, input)
		if err != nil {
			slog.Warn("alert rule evaluation stopped",
				"tenant_id", tenantID,
				"account_id", input.AccountID,
				"error", err,
			)
			break
		}
		for _, r := range results {
			switch r.SubRuleRef {
			case domain.RuleOutcomeReview, domain.RuleOutcomeFail:
				alerts = append(alerts, domain.Alert{
					RuleID:    r.RuleID,
					AccountID: r.AccountID,
					Outcome:   r.SubRuleRef,
					Score:     input.Score,
					Reason:    r.Reason,
				})
			case domain.RuleOutcomeError:
				slog.Warn("alert rule failed",
					"rule_id", r.RuleID,
					"account_id", r.AccountID,
					"reason", r.Reason,
				)
			}
		}
	}
	return alerts
}

func (s *Service) publish(ctx context.Context, report *domain.Report) {
	if s.bus == nil {
		return
	}

	completed := CompletedEvent{
		AnalysisID: report.ID,
		TenantID:   report.TenantID,
		TraceID:    report.Metadata.TraceID,
		Cached:     report.Metadata.Cached,
		Summary:    report.Summary,
		AlertCount: len(report.Alerts),
		Warnings:   report.Metadata.Warnings,
	}
	if err := bus.PublishJSON(ctx, s.bus, report.TenantID, domain.TopicAnalysisCompleted, completed); err != nil {
		slog.Error("failed to publish completion", "analysis_id", report.ID, "error", err)
	}

	for _, alert := range report.Alerts {
		event := AlertEvent{AnalysisID: report.ID, TenantID: report.TenantID, Alert: alert}
		if err := bus.PublishJSON(ctx, s.bus, report.TenantID, domain.TopicAlert, event); err != nil {
			slog.Error("failed to publish alert",
				"analysis_id", report.ID,
				"account_id", alert.AccountID,
				"error", err,
			)
		}
	}
}

// BatchHash fingerprints a batch independent of row order.
func BatchHash(txs []domain.Transaction) string {
	idx := make([]int, len(txs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return txs[idx[a]].ID < txs[idx[b]].ID })

	h := sha256.New()
	buf := make([]byte, 0, 128)
	for _, i := range idx {
		tx := txs[i]
		buf = buf[:0]
		buf = append(buf, tx.ID...)
		buf = append(buf, '|')
		buf = append(buf, tx.SenderID...)
		buf = append(buf, '|')
		buf = append(buf, tx.ReceiverID...)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, tx.Amount, 'f', -1, 64)
		buf = append(buf, '|')
		buf = tx.Timestamp.UTC().AppendFormat(buf, time.RFC3339Nano)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
