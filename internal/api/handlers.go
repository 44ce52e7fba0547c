package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/insightstack/assist-sentinel/internal/detect"
	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

const maxBatchSize = 500

// EventProcessor runs an event batch through detection.
type EventProcessor interface {
	Process(ctx context.Context, events []models.ConversationEvent) []detect.EventResult
}

// InsightAdmin is the ledger surface behind the admin endpoints.
type InsightAdmin interface {
	ListInsights(ctx context.Context, filter models.InsightFilter) ([]models.Insight, error)
	TransitionStatus(ctx context.Context, id string, newStatus models.InsightStatus, actor, note string) (models.Insight, error)
}

// ReportGenerator builds and optionally delivers digest reports.
type ReportGenerator interface {
	Generate(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (models.Report, error)
	GenerateAndSend(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (models.Report, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	logger    *slog.Logger
	processor EventProcessor
	insights  InsightAdmin
	reports   ReportGenerator
}

// NewHandlers constructs the handler set.
func NewHandlers(logger *slog.Logger, processor EventProcessor, insights InsightAdmin, reports ReportGenerator) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:    logger,
		processor: processor,
		insights:  insights,
		reports:   reports,
	}
}

// Routes assembles the route table.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/events", h.handleEvents)
	mux.HandleFunc("GET /api/v1/insights", h.handleListInsights)
	mux.HandleFunc("POST /api/v1/insights/{id}/status", h.handleInsightStatus)
	mux.HandleFunc("POST /api/v1/reports/generate", h.handleGenerateReport)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

type eventsRequest struct {
	Events []models.ConversationEvent `json:"events"`
}

type eventsResponse struct {
	Results []detect.EventResult `json:"results"`
}

func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req eventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events required")
		return
	}
	if len(req.Events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d events", maxBatchSize))
		return
	}

	results := h.processor.Process(r.Context(), req.Events)
	writeJSON(w, http.StatusOK, eventsResponse{Results: results})
}

func (h *Handlers) handleListInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.InsightFilter{
		TenantID: q.Get("tenant_id"),
		Severity: models.Severity(q.Get("severity")),
		Status:   models.InsightStatus(q.Get("status")),
		Category: q.Get("category"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	insights, err := h.insights.ListInsights(r.Context(), filter)
	if err != nil {
		h.logger.Error("list insights failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "list insights failed")
		return
	}
	if insights == nil {
		insights = []models.Insight{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

type statusRequest struct {
	Status models.InsightStatus `json:"status"`
	Actor  string               `json:"actor"`
	Note   string               `json:"note,omitempty"`
}

func (h *Handlers) handleInsightStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status required")
		return
	}

	insight, err := h.insights.TransitionStatus(r.Context(), id, req.Status, req.Actor, req.Note)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		writeError(w, http.StatusNotFound, "insight not found")
	case errors.Is(err, utils.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("status transition failed",
			slog.String("insight", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "status transition failed")
	default:
		writeJSON(w, http.StatusOK, insight)
	}
}

type reportRequest struct {
	TenantID    string `json:"tenant_id"`
	PeriodStart string `json:"period_start"` // YYYY-MM-DD
	PeriodEnd   string `json:"period_end"`   // YYYY-MM-DD, exclusive
	Send        bool   `json:"send,omitempty"`
}

func (h *Handlers) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id required")
		return
	}
	start, err := time.ParseInLocation("2006-01-02", req.PeriodStart, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "period_start must be YYYY-MM-DD")
		return
	}
	end, err := time.ParseInLocation("2006-01-02", req.PeriodEnd, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "period_end must be YYYY-MM-DD")
		return
	}

	generate := h.reports.Generate
	if req.Send {
		generate = h.reports.GenerateAndSend
	}
	report, err := generate(r.Context(), req.TenantID, start, end)
	switch {
	case errors.Is(err, utils.ErrReportAlreadySent):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, utils.ErrDeliveryFailed):
		// The digest was generated and stored; only the send failed.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"report": report,
			"error":  err.Error(),
		})
	case err != nil:
		h.logger.Error("report generation failed",
			slog.String("tenant", req.TenantID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "report generation failed")
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
