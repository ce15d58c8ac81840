package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"netwatch/core-go/internal/metrics"
	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/orchestrator"
	"netwatch/core-go/internal/orchestrator/resilience"
	"netwatch/core-go/internal/store"
)

type Handler struct {
	log     zerolog.Logger
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
}

func NewHandler(log zerolog.Logger, orch *orchestrator.Orchestrator, m *metrics.Metrics) *Handler {
	return &Handler{log: log, orch: orch, metrics: m}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health and scrape endpoints sit outside the API timeout so a
	// slow scan never masks liveness.
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/scans", func(r chi.Router) {
				r.Post("/", h.handleTriggerScan)
				r.Post("/recurring", h.handleScheduleScan)
				r.Delete("/recurring/{id}", h.handleUnscheduleScan)
			})

			r.Route("/snapshots", func(r chi.Router) {
				r.Get("/", h.handleListSnapshots)
				r.Get("/latest", h.handleLatestSnapshot)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetSnapshot)
					r.Delete("/", h.handleDeleteSnapshot)
					r.Get("/diff/{other}", h.handleCompareSnapshots)
				})
			})

			r.Get("/changes", h.handleRecentChanges)
			r.Get("/health", h.handleHealth)
			r.Get("/metrics", h.handleMonitoringMetrics)

			r.Route("/lifecycle", func(r chi.Router) {
				r.Post("/start", h.handleStart)
				r.Post("/stop", h.handleStop)
				r.Post("/restart", h.handleRestart)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var wse *orchestrator.WrongStateError
	switch {
	case model.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case model.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case model.IsConflict(err):
		h.writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.As(err, &wse):
		h.writeError(w, http.StatusConflict, "wrong_state", err.Error(), map[string]any{"state": string(wse.State)})
	case errors.Is(err, resilience.ErrCircuitOpen):
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable", nil)
	case model.IsInfrastructure(err):
		h.log.Error().Err(err).Msg("infrastructure error")
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage error", nil)
	default:
		h.log.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	health := h.orch.Health()
	if !health.Healthy {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "monitoring not healthy", map[string]any{"state": string(health.State)})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type scanRequest struct {
	Target         string `json:"target"`
	Profile        string `json:"profile,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (h *Handler) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	snap, err := h.orch.TriggerManualScan(r.Context(), req.Target, model.ScanProfile(req.Profile), time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, snap)
}

type recurringScanRequest struct {
	Target          string `json:"target"`
	Profile         string `json:"profile,omitempty"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func (h *Handler) handleScheduleScan(w http.ResponseWriter, r *http.Request) {
	var req recurringScanRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	id, err := h.orch.ScheduleRecurringScan(req.Target, time.Duration(req.IntervalSeconds)*time.Second, model.ScanProfile(req.Profile))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"job_id": id})
}

func (h *Handler) handleUnscheduleScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.orch.UnscheduleRecurringScan(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "scan job not found", map[string]any{"id": id})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseSnapshotQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}

	out, err := h.orch.ListSnapshots(r.Context(), filter, page)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": out.Snapshots,
		"total":     out.Total,
		"limit":     page.Limit,
		"offset":    page.Offset,
	})
}

func parseSnapshotQuery(r *http.Request) (store.SnapshotFilter, store.Page, error) {
	var filter store.SnapshotFilter
	page := store.Page{Limit: 20}

	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, page, errors.New("since must be RFC 3339")
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, page, errors.New("until must be RFC 3339")
		}
		filter.Until = t
	}
	if v := q.Get("scan_type"); v != "" {
		if !model.ValidProfile(model.ScanProfile(v)) {
			return filter, page, errors.New("unknown scan_type")
		}
		filter.ScanType = model.ScanProfile(v)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return filter, page, errors.New("limit must be 1..500")
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, page, errors.New("offset must be >= 0")
		}
		page.Offset = n
	}
	return filter, page, nil
}

func (h *Handler) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.GetLatestSnapshot(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if snap == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "no snapshots yet", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.DeleteSnapshot(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) handleCompareSnapshots(w http.ResponseWriter, r *http.Request) {
	d, err := h.orch.CompareSnapshots(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "other"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleRecentChanges(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("since_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 24*30 {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "since_hours must be 1..720", nil)
			return
		}
		hours = n
	}

	diffs, err := h.orch.GetRecentChanges(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"since_hours": hours,
		"diffs":       diffs,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orch.Health())
}

func (h *Handler) handleMonitoringMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orch.Metrics())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Start(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"state": string(h.orch.State())})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Stop(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"state": string(h.orch.State())})
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Restart(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"state": string(h.orch.State())})
}
