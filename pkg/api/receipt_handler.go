package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/airlock-labs/airlock/pkg/audit"
)

// VerifyReceiptRequest is the wire format for POST /v1/receipts/verify.
type VerifyReceiptRequest struct {
	Receipt audit.Receipt `json:"receipt"`
}

// VerifyReceiptResponse reports whether the receipt's seal checks out.
type VerifyReceiptResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// handleVerifyReceipt checks a completion receipt against the configured
// keyring, so downstream systems can validate receipts they stored without
// access to the database or the root secret.
func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req VerifyReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	err := s.keyring.Verify(req.Receipt)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, VerifyReceiptResponse{Valid: true})
	case errors.Is(err, audit.ErrBadReceipt):
		writeJSON(w, http.StatusOK, VerifyReceiptResponse{
			Valid:  false,
			Reason: "seal does not match receipt contents",
		})
	default:
		WriteInternal(w, err)
	}
}
