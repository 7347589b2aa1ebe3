package handlers

import (
	"net/http"

	"github.com/clhive/archon/middleware"
	"github.com/clhive/archon/models"
	"github.com/clhive/archon/outbox"
)

type OutboxHandler struct {
	queue *outbox.Queue
}

func NewOutboxHandler(q *outbox.Queue) *OutboxHandler {
	return &OutboxHandler{queue: q}
}

// Process handles POST /v1/outbox/process
func (h *OutboxHandler) Process(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queue.Drain(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, summary)
}

// Retry handles POST /v1/outbox/retry
func (h *OutboxHandler) Retry(w http.ResponseWriter, r *http.Request) {
	revived, err := h.queue.ReviveAbandoned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.RetryResponse{Revived: revived})
}
