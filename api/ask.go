package api

import (
	"encoding/json"
	"net/http"

	"github.com/askany/askany/internal/answer"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/search"
)

// MaxQueryLength bounds the question body.
const MaxQueryLength = 4000

// AskHandler serves the question endpoint.
type AskHandler struct {
	svc         *answer.Service
	defaultMode search.Mode
	logger      log.Logger
}

// NewAskHandler creates an AskHandler.
func NewAskHandler(svc *answer.Service, defaultMode search.Mode, logger log.Logger) *AskHandler {
	return &AskHandler{svc: svc, defaultMode: defaultMode, logger: logger}
}

// RegisterRoutes registers the ask route on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.ask)
}

// AskRequest is the request body for POST /api/ask.
type AskRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

func (h *AskHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required")
		return
	}
	if len(req.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query exceeds 4000 characters")
		return
	}

	mode := h.defaultMode
	switch req.Mode {
	case "":
	case string(search.Semantic):
		mode = search.Semantic
	case string(search.Hybrid):
		mode = search.Hybrid
	default:
		writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be semantic or hybrid")
		return
	}

	ans, err := h.svc.Ask(r.Context(), req.SessionID, req.Query, mode)
	if err != nil {
		// Ask only errors on context cancellation, i.e. the client left.
		h.logger.Warn("ask aborted", "error", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "request_aborted", "request was cancelled")
		return
	}

	writeJSON(w, http.StatusOK, ans)
}
