// Package http exposes the engine over a JSON API: session creation, event
// submission, status polling and snapshots, plus prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	espalier "github.com/aretw0/espalier"
)

// Engine is the orchestration surface the server exposes.
type Engine interface {
	StartSession(ctx context.Context, machineKey string) (*espalier.StartResult, error)
	SubmitEvent(ctx context.Context, sessionID, event, payload string) (*espalier.Outcome, error)
	PollStatus(ctx context.Context, sessionID string) (*espalier.PollResult, error)
	GetSnapshot(ctx context.Context, sessionID string) (*domain.Session, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Server handles the JSON API.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger configures a request logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler builds the router. A nil gatherer omits the metrics endpoint.
func NewHandler(engine Engine, gatherer prometheus.Gatherer, opts ...ServerOption) http.Handler {
	s := &Server{engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.startSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSnapshot)
			r.Delete("/", s.endSession)
			r.Get("/status", s.pollStatus)
			r.Post("/events", s.submitEvent)
		})
	})
	return r
}

type startSessionRequest struct {
	Machine string `json:"machine"`
}

type startSessionResponse struct {
	SessionID   string   `json:"session_id"`
	Response    string   `json:"response"`
	NextActions []string `json:"next_actions"`
}

type submitEventRequest struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

type submitEventResponse struct {
	NextActions []string `json:"next_actions"`
	Response    string   `json:"response,omitempty"`
}

type statusResponse struct {
	Ready       bool     `json:"ready"`
	NextActions []string `json:"next_actions"`
	Total       *int     `json:"total,omitempty"`
	Executed    *int     `json:"executed,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Allowed []string `json:"allowed_events,omitempty"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var body startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Machine == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("a machine key is required"))
		return
	}

	res, err := s.engine.StartSession(r.Context(), body.Machine)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID:   res.Session.ID,
		Response:    res.Response,
		NextActions: res.NextActions,
	})
}

func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request) {
	var body submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Event == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("an event name is required"))
		return
	}

	out, err := s.engine.SubmitEvent(r.Context(), chi.URLParam(r, "sessionID"), body.Event, body.Payload)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, submitEventResponse{
		NextActions: out.NextActions,
		Response:    out.Response,
	})
}

func (s *Server) pollStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.PollStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		Ready:       res.Ready,
		NextActions: res.NextActions,
		Total:       res.Total,
		Executed:    res.Executed,
		Error:       res.Error,
	})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetSnapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses: a
// rejected event is a conflict carrying the allowed events, a lock timeout
// is retryable, an unknown session is not found.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var terr *domain.TransitionError
	switch {
	case errors.As(err, &terr):
		s.writeJSON(w, http.StatusConflict, errorResponse{
			Error:   terr.Error(),
			Allowed: terr.Allowed,
		})
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrMachineNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("request failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
