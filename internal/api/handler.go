// Package api carries the HTTP surface: the OpenAI-compatible endpoints,
// health probes, metrics, and the stats snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ztoapi/internal/auth"
	"ztoapi/internal/cache"
	"ztoapi/internal/domain"
	"ztoapi/internal/metrics"
	"ztoapi/internal/notifications"
	"ztoapi/internal/provider"
	"ztoapi/internal/router"
	"ztoapi/internal/stats"
	"ztoapi/internal/token"
	"ztoapi/internal/translate"
)

type HandlerConfig struct {
	Verifier  *auth.Verifier
	Router    *router.Router
	Providers map[string]provider.Provider
	Tokens    *token.Provider
	Cache     cache.Cache
	Recorder  *stats.Recorder
	Notifier  notifications.Notifier

	TokenHeader    string
	DefaultStream  bool
	EnableThinking bool
	HealthCheckers []HealthChecker
}

type Handler struct {
	verifier  *auth.Verifier
	router    *router.Router
	providers map[string]provider.Provider
	tokens    *token.Provider
	cache     cache.Cache
	recorder  *stats.Recorder
	notifier  notifications.Notifier

	tokenHeader    string
	defaultStream  bool
	enableThinking bool
	mux            *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		verifier:       cfg.Verifier,
		router:         cfg.Router,
		providers:      cfg.Providers,
		tokens:         cfg.Tokens,
		cache:          cfg.Cache,
		recorder:       cfg.Recorder,
		notifier:       cfg.Notifier,
		tokenHeader:    cfg.TokenHeader,
		defaultStream:  cfg.DefaultStream,
		enableThinking: cfg.EnableThinking,
		mux:            http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /v1/stats", h.handleStats)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /health/ready", handleHealthReadyWithCheckers(cfg.HealthCheckers, 5*time.Second))
	h.mux.Handle("GET /metrics", promhttp.Handler())
	h.mux.HandleFunc("OPTIONS /", h.handlePreflight)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	h.mux.ServeHTTP(w, r)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-ZAI-Token")
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	if err := h.verifier.Verify(auth.ExtractAPIKey(r)); err != nil {
		slog.Warn("rejected request with invalid API key", "request_id", requestID)
		writeError(w, http.StatusUnauthorized, "authentication_error", "invalid_api_key", "invalid API key")
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid_request", "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid_request", "messages must not be empty")
		return
	}

	res := h.router.Resolve(req.Model)
	prov, ok := h.providers[res.Platform.ID]
	if !ok {
		slog.Error("no provider registered for platform", "platform", res.Platform.ID, "request_id", requestID)
		writeError(w, http.StatusBadGateway, "upstream_error", "upstream_error", "platform not available")
		return
	}

	streaming := h.defaultStream
	if req.Stream != nil {
		streaming = *req.Stream
	}
	thinking := h.enableThinking
	if req.EnableThinking != nil {
		thinking = *req.EnableThinking
	}

	event := stats.Event{
		Platform:     res.Platform.ID,
		Model:        res.ClientModel,
		IsStreaming:  streaming,
		MessageCount: len(req.Messages),
		ClientIP:     clientIP(r),
	}

	var cacheKey string
	if h.cache != nil && !streaming {
		cacheKey = cache.Key(res.ClientModel, req.Messages, streaming)
		if content, hit := h.cache.Get(ctx, cacheKey); hit {
			slog.Info("serving cached response",
				"request_id", requestID,
				"model", res.ClientModel,
				"platform", res.Platform.ID,
			)
			event.Status = http.StatusOK
			event.CacheHit = true
			event.Duration = time.Since(start)
			h.record(event)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			json.NewEncoder(w).Encode(translate.ResponseFromText(res.ClientModel, content))
			return
		}
	}

	authToken, source, err := h.tokens.Acquire(ctx, res.Platform, r.Header.Get(h.tokenHeader))
	if err != nil {
		slog.Error("token acquisition failed",
			"request_id", requestID,
			"platform", res.Platform.ID,
			"error", err,
		)
		h.notify(notifications.Notification{
			Type:     notifications.NotificationTokenUnavailable,
			Platform: res.Platform.ID,
			Message:  err.Error(),
		})
		event.Status = http.StatusServiceUnavailable
		event.TokenSource = string(token.SourceNone)
		event.Duration = time.Since(start)
		h.record(event)
		writeError(w, http.StatusServiceUnavailable, "token_unavailable", "token_unavailable", "no upstream token available")
		return
	}
	event.TokenSource = string(source)

	upReq := provider.Request{
		Messages:        req.Messages,
		ClientModel:     res.ClientModel,
		UpstreamModelID: res.UpstreamModelID,
		EnableThinking:  thinking,
	}

	if streaming {
		h.handleStreamingResponse(w, r, prov, upReq, authToken, event, requestID, start)
		return
	}

	resp, err := prov.ChatCompletion(ctx, upReq, authToken)
	if err != nil {
		status, errType, code, msg := mapUpstreamError(err)
		slog.Error("upstream call failed",
			"request_id", requestID,
			"platform", res.Platform.ID,
			"status", status,
			"error", err,
		)
		if status == http.StatusBadGateway {
			h.notify(notifications.Notification{
				Type:     notifications.NotificationUpstreamDown,
				Platform: res.Platform.ID,
				Message:  err.Error(),
			})
		}
		event.Status = status
		event.Duration = time.Since(start)
		h.record(event)
		writeError(w, status, errType, code, msg)
		return
	}

	if h.cache != nil && cacheKey != "" && len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		h.cache.Set(ctx, cacheKey, resp.Choices[0].Message.Content)
	}

	event.Status = http.StatusOK
	event.Duration = time.Since(start)
	h.record(event)

	slog.Info("request completed",
		"request_id", requestID,
		"platform", res.Platform.ID,
		"model", res.ClientModel,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleStreamingResponse(w http.ResponseWriter, r *http.Request, prov provider.Provider, upReq provider.Request, authToken string, event stats.Event, requestID string, start time.Time) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming_unsupported", "streaming not supported")
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	chunks, errs := prov.ChatCompletionStream(ctx, upReq, authToken)

	wrote := false
	for chunk := range chunks {
		if !wrote {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			wrote = true
		}
		data, _ := json.Marshal(chunk)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	if err, open := <-errs; open && err != nil {
		status, errType, code, msg := mapUpstreamError(err)
		slog.Error("streaming request failed",
			"request_id", requestID,
			"platform", event.Platform,
			"error", err,
		)
		if !wrote {
			writeError(w, status, errType, code, msg)
		}
		event.Status = status
		event.Duration = time.Since(start)
		h.record(event)
		return
	}

	// Clean close: the provider already emitted the finish chunk.
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()

	event.Status = http.StatusOK
	event.Duration = time.Since(start)
	h.record(event)

	slog.Info("streaming request completed",
		"request_id", requestID,
		"platform", event.Platform,
		"model", event.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	names := h.router.ClientModels()
	models := make([]domain.Model, 0, len(names))
	for _, name := range names {
		models = append(models, domain.Model{
			ID:      name,
			Object:  "model",
			Created: now,
			OwnedBy: h.router.OwnedBy(name),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ModelsResponse{Object: "list", Data: models})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var snap stats.Snapshot
	if h.recorder != nil {
		snap = h.recorder.Snapshot()
	}
	json.NewEncoder(w).Encode(snap)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) record(ev stats.Event) {
	if h.recorder != nil {
		h.recorder.Record(ev)
	}
}

// notify publishes off the request path with its own deadline.
func (h *Handler) notify(n notifications.Notification) {
	if h.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.notifier.Send(ctx, n); err != nil {
			slog.Warn("failed to send notification", "type", n.Type, "error", err)
		}
	}()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// mapUpstreamError translates provider failures into OpenAI-style error
// responses.
func mapUpstreamError(err error) (status int, errType, code, message string) {
	var httpErr *domain.UpstreamHTTPError
	switch {
	case errors.Is(err, domain.ErrNoUserMessage):
		return http.StatusBadRequest, "invalid_request_error", "invalid_request", err.Error()
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return http.StatusBadGateway, "upstream_error", "upstream_timeout", "upstream request timed out"
	case errors.As(err, &httpErr):
		return http.StatusBadGateway, "upstream_error", "upstream_error", httpErr.Error()
	default:
		return http.StatusBadGateway, "upstream_error", "upstream_error", "upstream call failed"
	}
}

func writeError(w http.ResponseWriter, status int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorBody{
		Error: domain.ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    code,
		},
	})
}
