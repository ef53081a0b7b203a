package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Internal
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, l *slog.Logger, err error) {
	var (
		verr *recon.ValidationError
		nerr *recon.NotFoundError
		cerr *recon.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.As(err, &nerr):
		security.WriteJSONErrorMessage(w, r, http.StatusNotFound, "not_found", nerr.Error())
	case errors.As(err, &cerr):
		security.WriteJSONErrorMessage(w, r, http.StatusConflict, "conflict", cerr.Error())
	case errors.Is(err, recon.ErrValidation):
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", err.Error())
	default:
		l.ErrorContext(r.Context(), "request failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, field, message string) {
	security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error",
		recon.NewValidationError(field, message).Error())
}
