package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Processor consumes normalized events for a tenant. The engine
// implements this.
type Processor interface {
	Process(ctx context.Context, tenantID string, ev Event)
}

// Handler is the HTTP entry point for channel-gateway callbacks.
// Events are acknowledged immediately and processed in the background
// so gateway retries never pile up behind model calls.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

// NewHandler builds the webhook handler.
func NewHandler(processor Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: processor, logger: logger}
}

// Register mounts the webhook routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/{tenant}", h.handleEvent)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if tenantID == "" {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("Malformed webhook payload", "tenant", tenantID, "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ev := Normalize(&payload)
	w.WriteHeader(http.StatusAccepted)

	if ev.Kind == EventIgnored {
		return
	}
	go h.processor.Process(context.WithoutCancel(r.Context()), tenantID, ev)
}
