package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felipepmaragno/tourai/internal/cost"
	"github.com/felipepmaragno/tourai/internal/provider"
)

const defaultUsageWindow = 24 * time.Hour

// AdminHandler exposes per-caller usage and runtime pricing overrides. It
// is meant for an internal listener, not the public one.
type AdminHandler struct {
	tracker    cost.Tracker
	calculator *cost.Calculator
	logger     *slog.Logger
	now        func() time.Time
	mux        *http.ServeMux
}

func NewAdminHandler(tracker cost.Tracker, calculator *cost.Calculator, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &AdminHandler{
		tracker:    tracker,
		calculator: calculator,
		logger:     logger,
		now:        time.Now,
		mux:        http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /admin/usage/{caller}", h.getUsage)
	h.mux.HandleFunc("GET /admin/pricing/{provider}/{model}", h.getPricing)
	h.mux.HandleFunc("PUT /admin/pricing/{provider}/{model}", h.setPricing)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// getUsage accepts ?since=<duration> (default 24h) and returns the caller's
// records and total estimated cost in that window.
func (h *AdminHandler) getUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := r.PathValue("caller")

	window := defaultUsageWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeAdminError(w, http.StatusBadRequest, "since must be a positive duration such as 24h")
			return
		}
		window = d
	}
	since := h.now().Add(-window)

	records, err := h.tracker.CallerUsage(ctx, caller, since)
	if err != nil {
		h.logger.Error("failed to load usage", "caller_id", caller, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	total, err := h.tracker.CallerTotalCost(ctx, caller, since)
	if err != nil {
		h.logger.Error("failed to load usage cost", "caller_id", caller, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	if records == nil {
		records = []cost.UsageRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"caller_id":      caller,
		"since":          since.UTC(),
		"requests":       len(records),
		"total_cost_usd": total,
		"records":        records,
	})
}

func (h *AdminHandler) getPricing(w http.ResponseWriter, r *http.Request) {
	name, err := provider.ParseName(r.PathValue("provider"))
	if err != nil {
		writeAdminError(w, http.StatusNotFound, "unknown provider")
		return
	}
	writeJSON(w, http.StatusOK, h.calculator.Rate(string(name), r.PathValue("model")))
}

func (h *AdminHandler) setPricing(w http.ResponseWriter, r *http.Request) {
	name, err := provider.ParseName(r.PathValue("provider"))
	if err != nil {
		writeAdminError(w, http.StatusNotFound, "unknown provider")
		return
	}
	model := r.PathValue("model")

	var req cost.ModelPricing
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InputPer1K < 0 || req.OutputPer1K < 0 {
		writeAdminError(w, http.StatusBadRequest, "prices must not be negative")
		return
	}

	h.calculator.SetPricing(string(name), model, req)
	h.logger.Info("pricing updated",
		"provider", name,
		"model", model,
		"input_per_1k", req.InputPer1K,
		"output_per_1k", req.OutputPer1K,
	)
	writeJSON(w, http.StatusOK, req)
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
