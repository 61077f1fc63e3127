package api

import (
	"encoding/json"
	"net/http"

	"github.com/neyroplan/neyroplan/internal/log"
	"github.com/neyroplan/neyroplan/internal/session"
)

// SessionHandler handles session-related HTTP endpoints.
type SessionHandler struct {
	store  *session.Store
	svc    GenerateService
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store *session.Store, svc GenerateService, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, svc: svc, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("POST /api/sessions/{id}/select", h.selectSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

// list returns the in-memory collection snapshot, most recent first,
// plus the current selection and processing state.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.Sessions()
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"sessions":  sessions,
		"currentId": h.store.CurrentID(),
		"total":     len(sessions),
		"busy":      h.svc.Busy(),
		"status":    h.svc.Status(),
	})
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	Restricted bool `json:"restricted"`
}

// create starts a new chat and makes it current.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
			return
		}
	}

	id := h.store.CreateSession(r.Context(), req.Restricted)
	writeJSON(w, h.logger, http.StatusCreated, map[string]string{"id": id})
}

// selectSession makes the named session current.
func (h *SessionHandler) selectSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.store.Session(id); !ok {
		writeError(w, h.logger, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	h.store.SelectSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// delete removes the named session. Idempotent: deleting an unknown id
// succeeds.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	h.store.DeleteSession(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
