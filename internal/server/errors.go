package server

import (
	"errors"
	"net/http"

	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/storage"
)

// mapNotFound converts a storage missing-row error into a NOT_FOUND
// domain error; everything else passes through.
func mapNotFound(err error, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return model.E(model.KindNotFound, "%s", msg)
	}
	return err
}

// statusForKind maps a domain error kind to its HTTP status.
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict, model.KindInvalidTransition:
		return http.StatusConflict
	case model.KindRateLimited:
		return http.StatusTooManyRequests
	case model.KindExternalUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError converts a service-layer error into the error
// envelope. Internal errors are logged with their cause but surface a
// generic message.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
	writeError(w, r, status, string(kind), model.MessageOf(err))
}
