package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipepmaragno/tourai/internal/capability"
	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/orchestrator"
	"github.com/felipepmaragno/tourai/internal/provider"
	"github.com/felipepmaragno/tourai/internal/queue"
)

const (
	maxBodyBytes = 1 << 20

	scopeChat        = "chat"
	scopeContentJobs = "content_jobs"
)

// ProviderLister reports which providers have credentials.
type ProviderLister interface {
	Available(name provider.Name) bool
}

// HandlerConfig wires the handler. Jobs enables POST /v1/jobs/content when
// set.
type HandlerConfig struct {
	Orchestrator   *orchestrator.Orchestrator
	Capabilities   *capability.Service
	Providers      ProviderLister
	Jobs           queue.Queue
	HealthCheckers []HealthChecker
	HealthTimeout  time.Duration
	Version        string
	Logger         *slog.Logger
}

type Handler struct {
	orch      *orchestrator.Orchestrator
	caps      *capability.Service
	providers ProviderLister
	jobs      queue.Queue
	logger    *slog.Logger
	validate  *validator.Validate
	mux       *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.HealthTimeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	h := &Handler{
		orch:      cfg.Orchestrator,
		caps:      cfg.Capabilities,
		providers: cfg.Providers,
		jobs:      cfg.Jobs,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/generate", h.handleGenerate)
	h.mux.HandleFunc("POST /v1/stream", h.handleStream)
	h.mux.HandleFunc("POST /v1/capabilities/sentiment", h.handleSentiment)
	h.mux.HandleFunc("POST /v1/capabilities/suggestions", h.handleSuggestions)
	h.mux.HandleFunc("POST /v1/capabilities/pricing", h.handlePricing)
	h.mux.HandleFunc("POST /v1/capabilities/content", h.handleContent)
	h.mux.HandleFunc("POST /v1/capabilities/forecast", h.handleForecast)
	if h.jobs != nil {
		h.mux.HandleFunc("POST /v1/jobs/content", h.handleSubmitContentJob)
	}
	h.mux.HandleFunc("GET /v1/providers", h.handleListProviders)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.HealthCheckers, timeout, cfg.Version))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
		r.Header.Set("X-Request-ID", requestID)
	}
	w.Header().Set("X-Request-ID", requestID)
	h.mux.ServeHTTP(w, r)
}

type generateRequest struct {
	Messages []domain.Message   `json:"messages" validate:"required,min=1,max=100"`
	Options  domain.CallOptions `json:"options"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.orch.Generate(r.Context(), callerFrom(r, scopeChat), req.Messages, req.Options)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStream waits for the first chunk before committing to an SSE
// response, so a provider that fails immediately still gets a JSON error.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "internal_error")
		return
	}

	stream, err := h.orch.Stream(r.Context(), callerFrom(r, scopeChat), req.Messages, req.Options)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer stream.Close()

	first, ok := <-stream.Chunks()
	if !ok {
		if err := stream.Err(); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if ok {
		writeEvent(w, "", map[string]string{"text": first.Text})
		flusher.Flush()
		for chunk := range stream.Chunks() {
			writeEvent(w, "", map[string]string{"text": chunk.Text})
			flusher.Flush()
		}
	}

	if err := stream.Err(); err != nil {
		if r.Context().Err() == nil {
			writeEvent(w, "error", map[string]string{"message": publicMessage(err)})
			flusher.Flush()
		}
		return
	}

	writeEvent(w, "", map[string]any{"x_tourai": map[string]any{
		"provider":   stream.Provider,
		"latency_ms": time.Since(start).Milliseconds(),
	}})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *Handler) handleSentiment(w http.ResponseWriter, r *http.Request) {
	var req capability.SentimentRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.caps.AnalyzeSentiment(r.Context(), callerFrom(r, capability.NameSentiment), req)
	h.respond(w, r, out, err)
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req capability.SuggestionRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.caps.Suggestions(r.Context(), callerFrom(r, capability.NameSuggestions), req)
	h.respond(w, r, map[string]any{"suggestions": out}, err)
}

func (h *Handler) handlePricing(w http.ResponseWriter, r *http.Request) {
	var req capability.PricingRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.caps.PricingAdvice(r.Context(), callerFrom(r, capability.NamePricing), req)
	h.respond(w, r, out, err)
}

func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	var req capability.ContentRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.caps.GenerateContent(r.Context(), callerFrom(r, capability.NameContent), req)
	h.respond(w, r, out, err)
}

func (h *Handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req capability.ForecastRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.caps.ForecastDemand(r.Context(), callerFrom(r, capability.NameForecast), req)
	h.respond(w, r, out, err)
}

func (h *Handler) handleSubmitContentJob(w http.ResponseWriter, r *http.Request) {
	var req capability.ContentRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := callerFrom(r, scopeContentJobs)
	job := queue.ContentJob{
		ID:        uuid.New().String(),
		Scope:     caller.Scope,
		CallerID:  caller.ID,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.jobs.SendJob(r.Context(), job); err != nil {
		h.logger.Error("failed to enqueue content job", "error", err, "request_id", r.Header.Get("X-Request-ID"))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job", "internal_error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type providerStatus struct {
	Name       provider.Name `json:"name"`
	Configured bool          `json:"configured"`
}

func (h *Handler) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	names := provider.Names()
	out := make([]providerStatus, len(names))
	for i, n := range names {
		out[i] = providerStatus{Name: n, Configured: h.providers.Available(n)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_input")
		return false
	}
	if req, ok := dst.(*generateRequest); ok {
		if err := h.validate.Struct(req); err != nil {
			message := "invalid request body"
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				message = fmt.Sprintf("%s failed %s validation", verrs[0].Namespace(), verrs[0].Tag())
			}
			writeError(w, http.StatusBadRequest, message, "invalid_input")
			return false
		}
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, body any, err error) {
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid     *domain.InvalidInputError
		limited     *domain.RateLimitedError
		unavailable *domain.AllProvidersUnavailableError
		perr        *domain.ProviderError
	)
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Reason, "invalid_input")
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
	case errors.As(err, &unavailable):
		writeError(w, http.StatusServiceUnavailable, "AI providers are temporarily unavailable", "providers_unavailable")
	case errors.As(err, &perr):
		writeError(w, http.StatusBadGateway, publicMessage(err), "provider_error")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nobody is listening.
	default:
		h.logger.Error("request failed", "error", err, "request_id", r.Header.Get("X-Request-ID"))
		writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}

// publicMessage hides provider response bodies from API clients.
func publicMessage(err error) string {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return fmt.Sprintf("provider %s failed (%s)", perr.Provider, perr.Class)
	}
	return "stream failed"
}

// callerFrom identifies the caller by X-Caller-ID, falling back to the
// client address.
func callerFrom(r *http.Request, scope string) domain.Caller {
	id := r.Header.Get("X-Caller-ID")
	if id == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		id = host
	}
	return domain.Caller{Scope: scope, ID: id}
}

func writeEvent(w http.ResponseWriter, event string, data any) {
	payload, _ := json.Marshal(data)
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
}
