package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/relay-gateway/internal/cache"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/filter"
	"github.com/af-corp/relay-gateway/internal/history"
	"github.com/af-corp/relay-gateway/internal/httputil"
	"github.com/af-corp/relay-gateway/internal/router"
	"github.com/af-corp/relay-gateway/internal/telemetry"
	"github.com/af-corp/relay-gateway/internal/types"
	"github.com/google/uuid"
)

const (
	cacheProvider   = "cache"
	noProvider      = "none"
	unknownModel    = "unknown"
	defaultPageSize = 50
	maxPageSize     = 500
	defaultMaxBody  = 10 << 20
)

// HistoryLister is the read side of the audit store.
type HistoryLister interface {
	List(ctx context.Context, limit, offset int) ([]history.Event, error)
}

// Deps are the collaborators a Handler needs. Filters, History and Metrics
// may be nil.
type Deps struct {
	Orchestrator *router.Orchestrator
	Cache        *cache.ResponseCache
	Recorder     history.Recorder
	History      HistoryLister
	Filters      *filter.Chain
	Metrics      *telemetry.Metrics
	Config       func() *config.Config
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	orchestrator *router.Orchestrator
	cache        *cache.ResponseCache
	recorder     history.Recorder
	history      HistoryLister
	filters      *filter.Chain
	metrics      *telemetry.Metrics
	cfg          func() *config.Config
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		orchestrator: d.Orchestrator,
		cache:        d.Cache,
		recorder:     d.Recorder,
		history:      d.History,
		filters:      d.Filters,
		metrics:      d.Metrics,
		cfg:          d.Config,
	}
	if h.recorder == nil {
		h.recorder = history.Discard{}
	}
	if h.cfg == nil {
		h.cfg = config.DefaultConfig
	}
	return h
}

// outcome is everything the audit, metrics and log line need about one request.
type outcome struct {
	requestID string
	model     string
	provider  string
	routed    string
	stream    bool
	status    int
	usage     types.Usage
	err       string
	started   time.Time
}

// Messages handles POST /v1/messages.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	out := outcome{requestID: reqID, model: unknownModel, provider: noProvider, routed: noProvider, started: time.Now()}

	limit := h.cfg().Server.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg := "Request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"
			h.reject(r.Context(), out, http.StatusRequestEntityTooLarge, msg)
			httputil.WriteRequestTooLargeError(w, reqID, msg)
			return
		}
		h.reject(r.Context(), out, http.StatusBadRequest, err.Error())
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}

	key := cache.Key(body)
	if cached, ok := h.cache.Get(key); ok {
		h.metrics.RecordCacheLookup(true)
		out.model = cached.Model
		out.provider = cacheProvider
		out.routed = routedModel(cached)
		out.status = http.StatusOK
		out.usage = cached.Usage
		h.finish(r.Context(), out)
		httputil.WriteJSON(w, http.StatusOK, cached)
		return
	}
	h.metrics.RecordCacheLookup(false)

	var req types.UnifiedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject(r.Context(), out, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if req.Model != "" {
		out.model = req.Model
	}
	out.stream = req.Stream
	if err := req.Validate(); err != nil {
		h.reject(r.Context(), out, http.StatusBadRequest, err.Error())
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteValidationError(w, reqID, verr.Message, verr.Fields)
			return
		}
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}

	results, blocked := h.filters.Run(r.Context(), &req)
	for _, fr := range results {
		if fr.Action != filter.ActionPass {
			h.metrics.RecordPolicyAction(fr.FilterName, string(fr.Action))
		}
	}
	if blocked != nil {
		slog.Warn("request blocked by filter", "request_id", reqID, "filter", blocked.FilterName, "model", req.Model)
		out.status = http.StatusForbidden
		out.err = blocked.Message
		h.finish(r.Context(), out)
		httputil.WritePolicyDeniedError(w, reqID, blocked.Message)
		return
	}

	resp, err := h.orchestrator.Complete(r.Context(), reqID, &req)
	if err != nil {
		out.err = err.Error()
		var exhausted *router.ExhaustedError
		switch {
		case errors.As(err, &exhausted):
			out.status = http.StatusBadGateway
			h.finish(r.Context(), out)
			httputil.WriteUpstreamError(w, reqID, "All providers failed: "+exhausted.Detail())
		case errors.Is(err, router.ErrNoSnapshot):
			out.status = http.StatusServiceUnavailable
			h.finish(r.Context(), out)
			httputil.WriteServiceUnavailableError(w, reqID, "Routing is not configured")
		default:
			out.status = http.StatusInternalServerError
			h.finish(r.Context(), out)
			httputil.WriteInternalError(w, reqID, "Internal error")
		}
		return
	}

	h.cache.Add(key, resp)
	out.provider = resp.Provider
	out.routed = routedModel(resp)
	out.status = http.StatusOK
	out.usage = resp.Usage
	h.finish(r.Context(), out)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// reject records a request turned away before routing.
func (h *Handler) reject(ctx context.Context, out outcome, status int, msg string) {
	out.status = status
	out.err = msg
	h.finish(ctx, out)
}

// finish records the audit event, metrics and the completion log line.
func (h *Handler) finish(ctx context.Context, out outcome) {
	elapsed := time.Since(out.started)
	success := out.status == http.StatusOK

	if err := h.recorder.Record(ctx, history.Event{
		RequestID:     out.requestID,
		Timestamp:     out.started.UTC(),
		Success:       success,
		Tokens:        out.usage.Total(),
		OriginalModel: out.model,
		Provider:      out.provider,
		RoutedModel:   out.routed,
		Duration:      elapsed,
		ErrorMessage:  out.err,
		Streaming:     out.stream,
	}); err != nil {
		slog.Warn("failed to record request history", "request_id", out.requestID, "error", err)
	}

	h.metrics.RecordRequest(telemetry.RequestLabels{
		Model:        out.model,
		Provider:     out.provider,
		Status:       strconv.Itoa(out.status),
		DurationMs:   float64(elapsed.Milliseconds()),
		InputTokens:  out.usage.InputTokens,
		OutputTokens: out.usage.OutputTokens,
	})

	attrs := []any{
		"request_id", out.requestID,
		"model", out.model,
		"provider", out.provider,
		"routed_model", out.routed,
		"input_tokens", out.usage.InputTokens,
		"output_tokens", out.usage.OutputTokens,
		"duration_ms", elapsed.Milliseconds(),
		"status_code", out.status,
		"stream", out.stream,
	}
	if success {
		slog.Info("request completed", attrs...)
		return
	}
	slog.Warn("request failed", append(attrs, "error", out.err)...)
}

func routedModel(resp *types.UnifiedResponse) string {
	if resp.ServedModel != "" {
		return resp.ServedModel
	}
	return resp.RouteKey
}

// Models handles GET /v1/models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	var keys []string
	if snap := h.orchestrator.Snapshot(); snap != nil {
		keys = snap.Table.Models()
	}
	models := make([]modelObject, 0, len(keys))
	for _, k := range keys {
		models = append(models, modelObject{ID: k, Object: "model", OwnedBy: "relay"})
	}
	httputil.WriteJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: models})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

type statusResponse struct {
	Providers    []string               `json:"providers"`
	Cooldowns    []router.CooldownState `json:"cooldowns"`
	CacheEntries int                    `json:"cache_entries"`
}

// Status handles GET /v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Providers:    []string{},
		Cooldowns:    h.orchestrator.Cooldown().Snapshot(h.cfg().Routing.CooldownWindow()),
		CacheEntries: h.cache.Len(),
	}
	if snap := h.orchestrator.Snapshot(); snap != nil {
		resp.Providers = snap.Registry.Keys()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type historyEntry struct {
	history.Event
	DurationSeconds float64 `json:"duration_seconds"`
}

type historyResponse struct {
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Data     []historyEntry `json:"data"`
}

// History handles GET /v1/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	if h.history == nil {
		httputil.WriteError(w, reqID, http.StatusNotFound, "not_found_error", "history_disabled", "Request history is not enabled")
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		httputil.WriteBadRequestError(w, reqID, "page must be a positive integer")
		return
	}
	size, err := queryInt(r, "page_size", defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		httputil.WriteBadRequestError(w, reqID, "page_size must be between 1 and "+strconv.Itoa(maxPageSize))
		return
	}

	events, err := h.history.List(r.Context(), size, (page-1)*size)
	if err != nil {
		slog.Error("failed to list request history", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to read request history")
		return
	}
	entries := make([]historyEntry, 0, len(events))
	for _, ev := range events {
		entries = append(entries, historyEntry{Event: ev, DurationSeconds: ev.DurationSeconds()})
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Page: page, PageSize: size, Data: entries})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// Health handles GET /health.
func Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "relay-gateway",
			"version": version,
		})
	}
}

// RequestID sets X-Request-ID on the response, reusing the caller's value
// when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func requestID(w http.ResponseWriter) string {
	if id := w.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	id := uuid.NewString()
	w.Header().Set("X-Request-ID", id)
	return id
}
