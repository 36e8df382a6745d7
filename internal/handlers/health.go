package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers GET /health. Unlike the teacher's plain-text "OK",
// spec §6.2 requires a small JSON envelope so monitoring can parse it.
type HealthHandler struct {
	logger *slog.Logger
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// BannerHandler answers GET / with a plain-text banner (spec §6.2),
// the gateway's equivalent of the teacher's root status page.
type BannerHandler struct{}

func NewBannerHandler() *BannerHandler { return &BannerHandler{} }

func (h *BannerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("anthropic-openai-gateway: translating Anthropic Messages requests to the OpenAI Responses API.\n"))
}
