package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/provider-booking-engine/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleDomainError maps the typed errors of the scheduling core onto HTTP.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *apperr.ValidationError
		slotErr       *apperr.InvalidSlotError
		conflictErr   *apperr.ConflictError
		transitionErr *apperr.InvalidTransitionError
		windowErr     *apperr.CancellationWindowError
		notFoundErr   *apperr.NotFoundError
		configErr     *apperr.ConfigurationError
		storageErr    *apperr.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &slotErr):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.As(err, &conflictErr):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.As(err, &windowErr):
		writeError(w, http.StatusUnprocessableEntity, "cancellation_window", err.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, notFoundErr.Resource+"_not_found", err.Error())
	case errors.As(err, &configErr):
		log.Ctx(r.Context()).Error().Err(err).Msg("provider schedule misconfigured")
		writeError(w, http.StatusInternalServerError, "schedule_misconfigured", err.Error())
	case errors.As(err, &storageErr):
		log.Ctx(r.Context()).Error().Err(err).Msg("storage failure")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage is temporarily unavailable")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("unexpected error")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
