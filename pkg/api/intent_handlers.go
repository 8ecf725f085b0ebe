package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/airlock-labs/airlock/pkg/gate"
	"github.com/airlock-labs/airlock/pkg/observability"
	"github.com/airlock-labs/airlock/pkg/store"
	"github.com/airlock-labs/airlock/pkg/validate"
)

// ProposeRequest is the wire format for POST /v1/intents.
type ProposeRequest struct {
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
}

// resolveRequest is the wire format for confirm and decline.
type resolveRequest struct {
	SessionID string `json:"session_id"`
}

// handleIntentsRouter routes requests under /v1/intents to the right handler.
func (s *Server) handleIntentsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/intents")
	path = strings.TrimSuffix(path, "/")

	switch {
	case path == "":
		// /v1/intents — propose or list
		switch r.Method {
		case http.MethodPost:
			s.handlePropose(w, r)
		case http.MethodGet:
			s.handleListIntents(w, r)
		default:
			WriteMethodNotAllowed(w)
		}
	case strings.HasSuffix(path, "/confirm"):
		s.handleConfirm(w, r)
	case strings.HasSuffix(path, "/decline"):
		s.handleDecline(w, r)
	default:
		// /v1/intents/{id}
		s.handleGetIntent(w, r)
	}
}

// handlePropose handles POST /v1/intents. 200 means the action ran (it was
// not sensitive), 202 means a pending intent now awaits confirmation, 422
// means a validator rejected the proposal and nothing happened.
func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if req.SessionID == "" || req.Action == "" {
		WriteBadRequest(w, "Missing required fields: session_id, action")
		return
	}

	span := observability.SpanFromContext(r.Context())
	span.SetAttributes(observability.ProposeAttrs(req.SessionID, req.Action)...)

	res, err := s.gate.Propose(r.Context(), req.SessionID, req.Action, req.Args)
	if err != nil {
		observability.SetSpanStatus(r.Context(), err)
		WriteInternal(w, err)
		return
	}
	span.SetAttributes(observability.AttrOutcome.String(string(res.Outcome)))

	switch res.Outcome {
	case gate.OutcomeRejected:
		title := "Contract Violation"
		if res.Failure != nil && res.Failure.Kind == validate.FailureContext {
			title = "Context Violation"
		}
		detail := ""
		if res.Failure != nil {
			detail = res.Failure.Reason
		}
		WriteErrorR(w, r, http.StatusUnprocessableEntity, title, detail)
	case gate.OutcomeAwaiting:
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// handleConfirm handles POST /v1/intents/{id}/confirm.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	intentID := pathSegment(r.URL.Path, 2)
	if intentID == "" {
		WriteBadRequest(w, "Missing intent id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		WriteBadRequest(w, "Missing required field: session_id")
		return
	}

	out, err := s.gate.Confirm(r.Context(), req.SessionID, intentID)
	if err != nil {
		observability.SetSpanStatus(r.Context(), err)
		WriteInternal(w, err)
		return
	}

	if !out.Confirmed {
		WriteErrorR(w, r, http.StatusConflict, "Confirmation Conflict", out.ConflictReason)
		return
	}
	observability.AddSpanEvent(r.Context(), "intent.transition",
		observability.TransitionAttrs(intentID, string(store.StatusPending), string(out.Status), "user")...)
	writeJSON(w, http.StatusOK, out)
}

// handleDecline handles POST /v1/intents/{id}/decline.
func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	intentID := pathSegment(r.URL.Path, 2)
	if intentID == "" {
		WriteBadRequest(w, "Missing intent id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		WriteBadRequest(w, "Missing required field: session_id")
		return
	}

	out, err := s.gate.Decline(r.Context(), req.SessionID, intentID)
	if err != nil {
		observability.SetSpanStatus(r.Context(), err)
		WriteInternal(w, err)
		return
	}

	if !out.Acknowledged {
		WriteErrorR(w, r, http.StatusConflict, "Decline Conflict", out.ConflictReason)
		return
	}
	observability.AddSpanEvent(r.Context(), "intent.transition",
		observability.TransitionAttrs(intentID, string(store.StatusPending), string(store.StatusExpired), "user")...)
	writeJSON(w, http.StatusOK, out)
}

// handleGetIntent handles GET /v1/intents/{id}.
func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	intentID := pathSegment(r.URL.Path, 2)
	it, err := s.intents.Get(r.Context(), intentID)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("intent %q not found", intentID))
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// handleListIntents handles GET /v1/intents?session_id=&status=&limit=.
func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.Filter{SessionID: q.Get("session_id")}
	if raw := q.Get("status"); raw != "" {
		status := store.Status(raw)
		if !status.IsValid() {
			WriteBadRequest(w, fmt.Sprintf("Unknown status %q", raw))
			return
		}
		f.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteBadRequest(w, fmt.Sprintf("Invalid limit %q", raw))
			return
		}
		f.Limit = limit
	}

	list, err := s.intents.List(r.Context(), f)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intents": list,
		"count":   len(list),
	})
}

// pathSegment extracts the nth slash-separated segment of the path.
// pathSegment("/v1/intents/abc/confirm", 2) returns "abc".
func pathSegment(path string, n int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if n < len(parts) {
		return parts[n]
	}
	return ""
}
