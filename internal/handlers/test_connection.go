package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Davincible/anthropic-openai-gateway/internal/config"
	"github.com/Davincible/anthropic-openai-gateway/internal/upstream"
)

// TestConnectionHandler answers GET /test-connection (spec §6.2, supplemented
// by SPEC_FULL.md #1): it performs a minimal upstream round-trip and reports
// the latency, or 500 on upstream failure.
type TestConnectionHandler struct {
	config *config.Manager
	client *upstream.Client
	logger *slog.Logger
}

func NewTestConnectionHandler(cfg *config.Manager, client *upstream.Client, logger *slog.Logger) *TestConnectionHandler {
	return &TestConnectionHandler{config: cfg, client: client, logger: logger}
}

func (h *TestConnectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	latency, resp, err := h.client.Ping(r.Context(), cfg.UpstreamModel)
	if err != nil {
		h.logger.Error("test-connection upstream ping failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"model":        cfg.UpstreamModel,
		"latency_ms":   latency.Milliseconds(),
		"response_id":  resp.ID,
	})
}
