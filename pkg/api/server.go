package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/airlock-labs/airlock/pkg/audit"
	"github.com/airlock-labs/airlock/pkg/catalog"
	"github.com/airlock-labs/airlock/pkg/gate"
	"github.com/airlock-labs/airlock/pkg/observability"
	"github.com/airlock-labs/airlock/pkg/store"
)

// Server exposes the gate over HTTP: proposals, confirmations, declines,
// intent inspection, the conversation router, and the action catalog.
type Server struct {
	gate     *gate.Controller
	conv     *gate.Conversation
	intents  store.IntentStore
	catalog  *catalog.Catalog
	provider *observability.Provider

	keyring  *audit.Keyring
	evidence *audit.Exporter
	slos     *observability.SLOTracker
	limiter  *GlobalRateLimiter
	idem     IdempotencyStorer

	writeTimeout time.Duration
}

// ServerOption configures optional server features.
type ServerOption func(*Server)

// WithKeyring enables POST /v1/receipts/verify against the given keyring.
func WithKeyring(k *audit.Keyring) ServerOption {
	return func(s *Server) { s.keyring = k }
}

// WithEvidence enables GET /v1/sessions/{id}/evidence, serving zip packs
// of the session's transition trail from the given exporter.
func WithEvidence(e *audit.Exporter) ServerOption {
	return func(s *Server) { s.evidence = e }
}

// WithSLOTracker records per-route SLO observations and enables
// GET /v1/slo/{operation}.
func WithSLOTracker(t *observability.SLOTracker) ServerOption {
	return func(s *Server) { s.slos = t }
}

// WithRateLimit enforces a per-IP request limit.
func WithRateLimit(rps, burst int) ServerOption {
	return func(s *Server) { s.limiter = NewGlobalRateLimiter(rps, burst) }
}

// WithIdempotency replays responses to repeated Idempotency-Key requests.
func WithIdempotency(store IdempotencyStorer) ServerOption {
	return func(s *Server) { s.idem = store }
}

// WithWriteTimeout overrides the HTTP write timeout. It must outlast the
// gate's execution deadline: confirmations run the action inline and the
// response is not written until it finishes.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.writeTimeout = d }
}

// NewServer wires the HTTP surface over an assembled gate.
func NewServer(ctrl *gate.Controller, conv *gate.Conversation, intents store.IntentStore, cat *catalog.Catalog, provider *observability.Provider, opts ...ServerOption) *Server {
	s := &Server{
		gate:         ctrl,
		conv:         conv,
		intents:      intents,
		catalog:      cat,
		provider:     provider,
		writeTimeout: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/actions", s.handleActions)
	mux.HandleFunc("/v1/intents", s.handleIntentsRouter)
	mux.HandleFunc("/v1/intents/", s.handleIntentsRouter)
	mux.HandleFunc("/v1/sessions/", s.handleSessionsRouter)

	if s.keyring != nil {
		mux.HandleFunc("/v1/receipts/verify", s.handleVerifyReceipt)
	}
	if s.slos != nil {
		mux.HandleFunc("/v1/slo/", s.handleSLOStatus)
	}

	return mux
}

// Handler returns the mux wrapped in the middleware chain: request ids,
// then instrumentation, then rate limiting, then idempotent replay.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Routes()

	if s.idem != nil {
		h = IdempotencyMiddleware(s.idem)(h)
	}
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = Instrument(s.provider, s.slos, h)
	h = RequestID(h)

	return h
}

// HTTPServer builds the production server with explicit timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleActions lists the action catalog.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": s.catalog.Definitions(),
	})
}

// handleSLOStatus reports compliance for GET /v1/slo/{operation}.
func (s *Server) handleSLOStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	op := pathSegment(r.URL.Path, 2)
	if op == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"operations": s.slos.Operations(),
		})
		return
	}
	status, err := s.slos.Status(op)
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
