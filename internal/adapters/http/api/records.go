package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/dialogkpi/internal/domain/model"
)

// RecordsDependencies lists archived records.
type RecordsDependencies interface {
	Recent(ctx context.Context, n int) ([]*model.Record, error)
}

// RecordsHandler handles archived record listings.
type RecordsHandler struct {
	deps     RecordsDependencies
	maxLimit int
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(deps RecordsDependencies, maxLimit int) *RecordsHandler {
	return &RecordsHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetRecords handles GET /records?limit=N requests, newest first.
func (h *RecordsHandler) HandleGetRecords(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_records"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrLimitExceeded))
		return
	}
	recs, err := h.deps.Recent(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
		return
	}
	if recs == nil {
		recs = []*model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
