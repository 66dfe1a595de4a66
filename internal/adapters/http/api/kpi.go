package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/dialogkpi/internal/adapters/transport"
	service "github.com/okian/dialogkpi/internal/app"
	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/types"
)

// KPIDependencies accepts uploaded records.
type KPIDependencies interface {
	Accept(ctx context.Context, rec *model.Record) (types.Ack, error)
}

// KPIHandler handles record uploads.
type KPIHandler struct {
	deps    KPIDependencies
	maxBody int64
}

// NewKPIHandler creates a new upload handler.
func NewKPIHandler(deps KPIDependencies, maxBody int64) *KPIHandler {
	return &KPIHandler{deps: deps, maxBody: maxBody}
}

// HandlePostKPI handles POST /kpi requests. The body is a JSON record,
// optionally zstd compressed as declared by Content-Encoding.
func (h *KPIHandler) HandlePostKPI(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_kpi"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", NewKind(op, ErrTooLarge))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	body, err := transport.Decode(r.Header.Get("Content-Encoding"), raw)
	if err != nil {
		if errors.Is(err, transport.ErrUnknownCompression) {
			writeError(w, http.StatusUnsupportedMediaType, "unsupported_encoding", WrapKind(op, ErrUnsupported, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	var rec model.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ack, err := h.deps.Accept(r.Context(), &rec)
	switch {
	case errors.Is(err, service.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
		return
	}

	if ack.Duplicate {
		writeJSON(w, http.StatusOK, ack)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}
