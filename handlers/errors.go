package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/clhive/archon/middleware"
	"github.com/clhive/archon/models"
)

var statusByKind = map[string]int{
	models.KindInvalidRequest:         http.StatusBadRequest,
	models.KindInvalidKeyFormat:       http.StatusBadRequest,
	models.KindUnknownBindingKind:     http.StatusBadRequest,
	models.KindInvalidExternalKey:     http.StatusBadRequest,
	models.KindInvalidOptionCount:     http.StatusBadRequest,
	models.KindInvalidDeadline:        http.StatusBadRequest,
	models.KindInvalidTitle:           http.StatusBadRequest,
	models.KindInvalidPollType:        http.StatusBadRequest,
	models.KindMetadataTooLarge:       http.StatusBadRequest,
	models.KindInvalidChoice:          http.StatusBadRequest,
	models.KindInvalidReason:          http.StatusBadRequest,
	models.KindInvalidSignature:       http.StatusBadRequest,
	models.KindInsufficientTier:       http.StatusForbidden,
	models.KindInsufficientBond:       http.StatusForbidden,
	models.KindPollNotFound:           http.StatusNotFound,
	models.KindNotProvisioned:         http.StatusConflict,
	models.KindPollClosed:             http.StatusConflict,
	models.KindDuplicateVote:          http.StatusConflict,
	models.KindCapacityReached:        http.StatusConflict,
	models.KindBondVerificationFailed: http.StatusBadGateway,
	models.KindSignerUnavailable:      http.StatusServiceUnavailable,
}

// writeError maps a classified Failure to its HTTP status and stable
// kind; anything unclassified is an internal fault.
func writeError(w http.ResponseWriter, err error) {
	var f *models.Failure
	if errors.As(err, &f) {
		status, ok := statusByKind[f.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		middleware.ErrorResponse(w, status, f.Kind, f.Message)
		return
	}
	slog.Error("internal error", "error", err)
	middleware.ErrorResponse(w, http.StatusInternalServerError, "internal", "internal error")
}
