package api

import (
	"encoding/json"
	"net/http"
)

// MessageRequest is the wire format for POST /v1/sessions/{id}/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// handleSessionsRouter routes requests under /v1/sessions.
func (s *Server) handleSessionsRouter(w http.ResponseWriter, r *http.Request) {
	sessionID := pathSegment(r.URL.Path, 2)
	leaf := pathSegment(r.URL.Path, 3)

	switch {
	case sessionID == "":
		WriteNotFound(w, "Unknown sessions endpoint")
	case leaf == "messages":
		s.handleMessage(w, r, sessionID)
	case leaf == "evidence" && s.evidence != nil:
		s.handleEvidence(w, r, sessionID)
	default:
		WriteNotFound(w, "Unknown sessions endpoint")
	}
}

// handleMessage runs one raw message through the conversation router: an
// affirmation or denial resolves the session's pending intent, an action
// request comes back as needs_proposal, anything else passes through.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Message == "" {
		WriteBadRequest(w, "Missing required field: message")
		return
	}

	out, err := s.conv.HandleMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
