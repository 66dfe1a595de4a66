package api

import (
	"net/http"

	"github.com/okian/dialogkpi/internal/domain/model"
)

// SessionDependencies provides the context a starting dialog samples against.
type SessionDependencies interface {
	SessionContext() model.SessionContext
}

// SessionHandler handles session context requests.
type SessionHandler struct {
	deps SessionDependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps SessionDependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

// HandleGetSession handles GET /session requests.
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, h.deps.SessionContext())
}
