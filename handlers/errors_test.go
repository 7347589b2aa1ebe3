package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clhive/archon/models"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		kind           string
		expectedStatus int
	}{
		{models.KindInvalidRequest, http.StatusBadRequest},
		{models.KindInvalidChoice, http.StatusBadRequest},
		{models.KindInvalidSignature, http.StatusBadRequest},
		{models.KindInsufficientTier, http.StatusForbidden},
		{models.KindInsufficientBond, http.StatusForbidden},
		{models.KindPollNotFound, http.StatusNotFound},
		{models.KindNotProvisioned, http.StatusConflict},
		{models.KindPollClosed, http.StatusConflict},
		{models.KindDuplicateVote, http.StatusConflict},
		{models.KindCapacityReached, http.StatusConflict},
		{models.KindBondVerificationFailed, http.StatusBadGateway},
		{models.KindSignerUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, models.Failf(tt.kind, "boom"))

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			var resp models.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error body: %v", err)
			}
			if resp.Error != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, resp.Error)
			}
		})
	}
}

func TestWriteErrorUnclassified(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("disk on fire"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	var resp models.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if resp.Error != "internal" {
		t.Errorf("Expected internal kind, got %s", resp.Error)
	}
	// Internal details must not leak into the envelope
	if resp.Message == "disk on fire" {
		t.Error("Internal error message leaked to the client")
	}
}
