package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/airlock-labs/airlock/pkg/audit"
)

// handleEvidence serves GET /v1/sessions/{id}/evidence: a zip evidence pack
// of the session's transition trail. Optional after/before query parameters
// (RFC 3339) bound the window. The pack's SHA-256 lands in X-Evidence-Checksum
// so the download can be verified out of band.
func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	req := audit.ExportRequest{SessionID: sessionID}
	q := r.URL.Query()
	if raw := q.Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteBadRequest(w, fmt.Sprintf("Invalid after %q: must be RFC 3339", raw))
			return
		}
		req.After = t
	}
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteBadRequest(w, fmt.Sprintf("Invalid before %q: must be RFC 3339", raw))
			return
		}
		req.Before = t
	}

	pack, checksum, err := s.evidence.GeneratePack(r.Context(), req)
	if errors.Is(err, audit.ErrEmptySessionID) || errors.Is(err, audit.ErrInvalidTimeRange) {
		WriteBadRequest(w, err.Error())
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "evidence-"+sessionID+".zip"))
	w.Header().Set("X-Evidence-Checksum", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}
