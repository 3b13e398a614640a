package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/ringwatch/internal/analyzer"
	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/ingest"
	"github.com/opensource-finance/ringwatch/internal/repository"
	"github.com/opensource-finance/ringwatch/internal/rules"
	"github.com/opensource-finance/ringwatch/internal/worker"
)

const (
	defaultListLimit = 50
	uploadField      = "file"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	service   *analyzer.Service
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	maxUpload int64
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(service *analyzer.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, maxUpload int64, version string) *Handler {
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	return &Handler{
		service:   service,
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		maxUpload: maxUpload,
		version:   version,
	}
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	*domain.Report

	// Warnings repeats Metadata.Warnings at the top level.
	Warnings []string `json:"warnings,omitempty"`
}

// QueuedResponse is the response for POST /analyze?async=true.
type QueuedResponse struct {
	AnalysisID   string `json:"analysis_id"`
	Status       string `json:"status"`
	Transactions int    `json:"transactions"`
	TraceID      string `json:"trace_id"`
}

// Analyze handles POST /analyze. The batch is a multipart "file" upload,
// a text/csv body or a JSON body.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	txs, err := h.readBatch(r)
	if err != nil {
		h.writeBatchError(w, err)
		return
	}

	analysisID := uuid.New().String()
	AddLogFields(ctx, "analysis_id", analysisID, "transactions", len(txs))

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, analysisID, txs)
		return
	}

	report, err := h.service.Analyze(ctx, analyzer.Request{
		AnalysisID:   analysisID,
		TenantID:     tenantID,
		TraceID:      traceID,
		Transactions: txs,
	})
	if err != nil {
		if errors.Is(err, analyzer.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("analysis failed", "analysis_id", analysisID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	AddLogFields(ctx,
		"cached", report.Metadata.Cached,
		"fraud_rings", report.Summary.FraudRingsDetected,
		"suspicious_accounts", report.Summary.SuspiciousAccountsFlagged,
	)

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Report:   report,
		Warnings: report.Metadata.Warnings,
	})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, analysisID string, txs []domain.Transaction) {
	ctx := r.Context()

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	msg := worker.AnalysisMessage{
		AnalysisID:   analysisID,
		TenantID:     GetTenantID(ctx),
		TraceID:      GetTraceID(ctx),
		Transactions: txs,
	}
	if err := bus.PublishJSON(ctx, h.bus, domain.QueueTenantID, domain.TopicAnalysisRequested, msg); err != nil {
		slog.Error("failed to queue analysis", "analysis_id", analysisID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue analysis",
		})
		return
	}

	AddLogFields(ctx, "queued", true)

	writeJSON(w, http.StatusAccepted, QueuedResponse{
		AnalysisID:   analysisID,
		Status:       "queued",
		Transactions: len(txs),
		TraceID:      msg.TraceID,
	})
}

// readBatch decodes the request body according to its content type.
func (h *Handler) readBatch(r *http.Request) ([]domain.Transaction, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "multipart/form-data":
		file, header, err := r.FormFile(uploadField)
		if err != nil {
			return nil, fmt.Errorf("%w: multipart field %q: %v", errBadUpload, uploadField, err)
		}
		defer file.Close()
		if strings.EqualFold(filepath.Ext(header.Filename), ".json") {
			return ingest.DecodeJSON(file)
		}
		return ingest.ReadCSV(file)

	case "text/csv", "application/csv", "text/plain":
		return ingest.ReadCSV(r.Body)

	case "application/json", "":
		return ingest.DecodeJSON(r.Body)

	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", errBadUpload, mediaType)
	}
}

var errBadUpload = errors.New("bad upload")

func (h *Handler) writeBatchError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("batch exceeds %d bytes", tooLarge.Limit),
		})
	case errors.Is(err, ingest.ErrMissingColumns),
		errors.Is(err, ingest.ErrInvalidRow),
		errors.Is(err, ingest.ErrEmptyBatch),
		errors.Is(err, errBadUpload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Warn("failed to read batch", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read batch: " + err.Error(),
		})
	}
}

// Root describes the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "ringwatch",
		"version":  h.version,
		"engine":   domain.EngineVersion,
		"required": ingest.RequiredColumns,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListAnalyses returns the most recent archived reports for the tenant.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	analyses, err := h.repo.ListAnalyses(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list analyses", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// GetAnalysis retrieves an archived report by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get analysis", "id", analysisID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListRules returns all loaded alert rules from the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Enabled     bool              `json:"enabled"`
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateRule validates a rule, loads it into the engine and archives it
// globally (tenant_id = "*").
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if ruleConfig.Enabled {
		if err := h.engine.LoadRule(ruleConfig); err != nil {
			slog.Error("failed to load rule", "id", ruleConfig.ID, "error", err)
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule": ruleConfig,
	})
}

// ReloadRules reloads all rules from the database into the engine.
// The built-in rules are used when the database holds none.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	source := "database"
	if len(dbRules) == 0 {
		dbRules = rules.DefaultRules()
		source = "builtin"
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", h.engine.RulesCount(), "source", source)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
		"source":  source,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

