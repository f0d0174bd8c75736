package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/greenbharat/air-quality-service/internal/lifecycle"
	"github.com/greenbharat/air-quality-service/internal/service"
	"github.com/greenbharat/air-quality-service/internal/validation"
)

// IngestStatus exposes the ingestion loop's health counters to the health
// handler.
type IngestStatus interface {
	SourceReachable() bool
	Ingested() int64
	ActivityCount(window time.Duration) int
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	IngestWindow time.Duration
	StartTime    time.Time
	// CachePing, when set, is called to check cache reachability. Used when
	// the backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	queries        *service.QueryService
	ingest         IngestStatus
	healthConfig   *HealthConfig
	logger         *zap.Logger
	trendsMaxLimit int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	queries *service.QueryService,
	ingest IngestStatus,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	trendsMaxLimit int,
) *Handler {
	if trendsMaxLimit <= 0 {
		trendsMaxLimit = 1000
	}
	return &Handler{
		queries:        queries,
		ingest:         ingest,
		healthConfig:   healthConfig,
		logger:         logger,
		trendsMaxLimit: trendsMaxLimit,
	}
}

// GetAQI handles GET /api/aqi: latest reading per city, sorted worst-first.
func (h *Handler) GetAQI(w http.ResponseWriter, r *http.Request) {
	payload, err := h.queries.CurrentAQI(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// GetAlerts handles GET /api/alerts: recent alerts plus the lifetime total.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	payload, err := h.queries.Alerts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// GetTrends handles GET /api/trends?city=X&limit=N.
func (h *Handler) GetTrends(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	limit, err := validation.ValidateLimit(r.URL.Query().Get("limit"), h.trendsMaxLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
		return
	}

	payload, err := h.queries.Trends(r.Context(), city, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// GetStats handles GET /api/stats: per-city running statistics.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	payload, err := h.queries.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// GetSummary handles GET /api/summary: network-wide rollup.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	payload, err := h.queries.Summary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// askRequest is the POST /api/ask request body.
type askRequest struct {
	Query string `json:"query"`
}

// askResponse is the POST /api/ask response body.
type askResponse struct {
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Fallback bool     `json:"fallback"`
}

// PostAsk handles POST /api/ask. The collaborator being down never surfaces as
// an error to the caller; a fixed fallback answer is returned instead.
func (h *Handler) PostAsk(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a query field")
		return
	}
	query := strings.TrimSpace(body.Query)
	if query == "" {
		writeError(w, r, http.StatusBadRequest, "EMPTY_QUERY", "query must not be empty")
		return
	}

	answer, fellBack := h.queries.Ask(r.Context(), query)
	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:   answer.Answer,
		Sources:  sources,
		Fallback: fellBack,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if h.ingest != nil && h.ingest.SourceReachable() {
		checks["source"] = "healthy"
	} else {
		checks["source"] = "unhealthy"
	}
	if h.queries.CollaboratorHealthy() {
		checks["qaCollaborator"] = "healthy"
	} else {
		checks["qaCollaborator"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.IngestWindow > 0 {
		window = h.healthConfig.IngestWindow
	}
	var ingested int64
	var recentActivity int
	if h.ingest != nil {
		ingested = h.ingest.Ingested()
		recentActivity = h.ingest.ActivityCount(window)
	}

	resp := map[string]interface{}{
		"status":              result.status,
		"service":             "air-quality-service",
		"version":             "dev",
		"checks":              checks,
		"readingsIngested":    ingested,
		"readingsInWindow":    recentActivity,
		"ingestWindowSeconds": window.Seconds(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > source unreachable > collaborator down > healthy.
// The collaborator being down degrades the status but keeps 200, because the
// live dashboard does not depend on it.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.ingest != nil && !h.ingest.SourceReachable() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "source_unreachable"}
	}
	if !h.queries.CollaboratorHealthy() {
		return healthResult{"degraded", http.StatusOK, "qa_collaborator_unreachable"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes an already-encoded JSON payload. Cached view payloads
// are stored as encoded bytes, so hits skip re-marshalling.
func writeRawJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps view materialization failures to responses. Context
// deadline produces 504; everything else is a 500. The underlying error is
// logged, never echoed to the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Warn("view error", zap.Error(err))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "unable to serve view")
}
