package handlers

import (
	"net/http"
	"strconv"

	"github.com/clhive/archon/middleware"
	"github.com/clhive/archon/models"
	"github.com/clhive/archon/polls"
)

type PollHandler struct {
	engine *polls.Engine
}

func NewPollHandler(e *polls.Engine) *PollHandler {
	return &PollHandler{engine: e}
}

// CreatePoll handles POST /v1/polls
func (h *PollHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "Invalid JSON")
		return
	}

	poll, err := h.engine.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, poll)
}

// PollStatus handles GET /v1/polls/{id}
func (h *PollHandler) PollStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// CastVote handles POST /v1/polls/{id}/votes
func (h *PollHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req models.CastVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "Invalid JSON")
		return
	}

	vote, err := h.engine.CastVote(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, vote)
}

// MyVotes handles GET /v1/votes/mine
func (h *PollHandler) MyVotes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	resp, err := h.engine.MyVotes(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Prune handles POST /v1/maintenance/prune
func (h *PollHandler) Prune(w http.ResponseWriter, r *http.Request) {
	resp, err := h.engine.Prune(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}
