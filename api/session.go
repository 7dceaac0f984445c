package api

import (
	"net/http"

	"github.com/askany/askany/internal/answer"
	"github.com/askany/askany/internal/conversation"
	"github.com/askany/askany/internal/log"
)

// SessionHandler serves the session endpoints.
type SessionHandler struct {
	svc    *answer.Service
	logger log.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(svc *answer.Service, logger log.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}/history", h.history)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.reset)
}

func (h *SessionHandler) list(w http.ResponseWriter, _ *http.Request) {
	ids := h.svc.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": ids,
		"total":    len(ids),
	})
}

// HistoryResponse is the response body for the history endpoint.
type HistoryResponse struct {
	SessionID string              `json:"session_id"`
	Turns     []conversation.Turn `json:"turns"`
}

func (h *SessionHandler) history(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns := h.svc.History(id)
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, Turns: turns})
}

func (h *SessionHandler) reset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.svc.Reset(id)
	h.logger.Debug("session reset", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}
