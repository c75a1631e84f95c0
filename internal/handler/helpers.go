package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error      string                   `json:"error"`
	Field      string                   `json:"field,omitempty"`
	ExistingID string                   `json:"existingId,omitempty"`
	Validation *domain.ValidationResult `json:"validation,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var rejected *domain.ErrValidationRejected
	var duplicate *domain.ErrDuplicateSubmission
	var alreadyMatched *domain.ErrAlreadyMatched
	var notFound *domain.ErrNotFound
	var transition *domain.ErrInvalidStateTransition
	var validation *domain.ErrValidation
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &rejected):
		logger.Info("submission rejected", zap.String("error", err.Error()))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:      "submission rejected by risk policy",
			Validation: rejected.Result,
		})
	case errors.As(err, &duplicate):
		logger.Debug("duplicate submission", zap.String("existing_id", duplicate.ExistingID))
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), ExistingID: duplicate.ExistingID})
	case errors.As(err, &alreadyMatched):
		logger.Debug("already matched", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPassInProgress):
		logger.Debug("matching pass in progress")
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &transition):
		logger.Debug("invalid state transition", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: validation.Field})
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream service unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
