package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mfiorillo/faqbot/internal/chat"
	"github.com/mfiorillo/faqbot/internal/config"
	"github.com/mfiorillo/faqbot/internal/exchange"
	"github.com/mfiorillo/faqbot/internal/feed"
	"github.com/mfiorillo/faqbot/internal/generation"
	"github.com/mfiorillo/faqbot/internal/observability"
	"github.com/mfiorillo/faqbot/internal/resource"
)

// Orchestrator is the chat pipeline as seen by the HTTP layer.
type Orchestrator interface {
	Respond(ctx context.Context, req chat.Request) (chat.Result, error)
	RefineQuery(ctx context.Context, userQuery string, history []generation.Turn) (string, error)
	GenerateAnswer(ctx context.Context, refinedQuery string) (string, error)
}

// HealthProber reports remote resource-provider liveness. Satisfied by
// *resource.Client.
type HealthProber interface {
	Health(ctx context.Context) bool
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        exchange.Store
	resources    HealthProber
	hub          *feed.Hub
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, store exchange.Store, resources HealthProber, hub *feed.Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		resources:    resources,
		hub:          hub,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly opened
				// up; non-browser clients without an Origin header are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/chat", s.handleChat)
	r.Post("/query_generate", s.handleQueryGenerate)
	r.Post("/answer_generate", s.handleAnswerGenerate)
	r.Get("/messages", s.handleListMessages)
	r.Get("/messages/count", s.handleCountMessages)
	r.Get("/v1/exchanges/ws", s.handleExchangeFeed)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// The provider probe is informational: local fallback keeps the pipeline
	// serviceable when the provider is down, so readiness does not gate on it.
	providerUp := false
	if s.resources != nil {
		providerUp = s.resources.Health(ctx)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ready",
		"resource_provider_up": providerUp,
	})
}

type chatRequest struct {
	UserQuery           string            `json:"user_query"`
	ConversationHistory []generation.Turn `json:"conversation_history"`
	ConversationID      string            `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_query is required")
		return
	}

	result, err := s.orchestrator.Respond(r.Context(), chat.Request{
		UserQuery:      req.UserQuery,
		History:        req.ConversationHistory,
		ConversationID: strings.TrimSpace(req.ConversationID),
	})
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type queryGenerateRequest struct {
	UserQuery           string            `json:"user_query"`
	ConversationHistory []generation.Turn `json:"conversation_history"`
}

func (s *Server) handleQueryGenerate(w http.ResponseWriter, r *http.Request) {
	var req queryGenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_query is required")
		return
	}

	refined, err := s.orchestrator.RefineQuery(r.Context(), req.UserQuery, req.ConversationHistory)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"refined_query":  refined,
		"original_query": req.UserQuery,
	})
}

type answerGenerateRequest struct {
	RefinedQuery  string `json:"refined_query"`
	OriginalQuery string `json:"original_query,omitempty"`
}

func (s *Server) handleAnswerGenerate(w http.ResponseWriter, r *http.Request) {
	var req answerGenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.RefinedQuery) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "refined_query is required")
		return
	}

	answer, err := s.orchestrator.GenerateAnswer(r.Context(), req.RefinedQuery)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"answer":         answer,
		"refined_query":  req.RefinedQuery,
		"original_query": req.OriginalQuery,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.ListDefaultLimit
	if limit <= 0 {
		limit = 100
	}
	limit, err := intQueryParam(r, "limit", limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	offset, err := intQueryParam(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))

	records, err := s.store.List(r.Context(), conversationID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("list exchanges failed")
		respondError(w, http.StatusInternalServerError, "persistence_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleCountMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))

	count, err := s.store.Count(r.Context(), conversationID)
	if err != nil {
		log.Error().Err(err).Msg("count exchanges failed")
		respondError(w, http.StatusInternalServerError, "persistence_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleExchangeFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe()
	defer cancel()

	if s.metrics != nil {
		s.metrics.FeedClients.Inc()
		defer s.metrics.FeedClients.Dec()
	}

	// Reader loop only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case record, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(record); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// respondPipelineError maps core error types onto HTTP codes. Validation
// failures are the caller's fault; everything else is a stage-tagged server
// error.
func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrEmptyQuery) || errors.Is(err, generation.ErrUnsupportedRole) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	code := "internal"
	var stageErr *chat.StageError
	var unavailErr *resource.UnavailableError
	var templateErr *generation.TemplateError
	var genErr *generation.GenerationError
	var persistErr *exchange.PersistenceError
	switch {
	case errors.As(err, &stageErr):
		code = "failed_" + string(stageErr.Stage)
	case errors.As(err, &unavailErr):
		code = "resource_unavailable"
	case errors.As(err, &templateErr):
		code = "template_error"
	case errors.As(err, &genErr):
		code = "generation_error"
	case errors.As(err, &persistErr):
		code = "persistence_error"
	}

	log.Error().Err(err).Str("code", code).Msg("chat pipeline request failed")
	respondError(w, http.StatusInternalServerError, code, err.Error())
}

func intQueryParam(r *http.Request, name string, fallback int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func decodeJSON(r *http.Request, out any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
