// Package httpapi exposes the turn pipeline over REST and websocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kemet-ai/kemet/internal/config"
	"github.com/kemet-ai/kemet/internal/observability"
	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/pipeline"
)

type Server struct {
	cfg      config.Config
	turns    *pipeline.Coordinator
	registry *persona.Registry
	window   *observability.StageWindow
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, turns *pipeline.Coordinator, registry *persona.Registry, window *observability.StageWindow, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		turns:    turns,
		registry: registry,
		window:   window,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin unless
				// explicitly opened up; non-browser clients omit Origin.
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

	r.Post("/v1/turns", s.handleTurn)
	r.Post("/v1/turns/voice", s.handleVoiceTurn)
	r.Get("/v1/turns/ws", s.handleTurnWS)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Delete("/v1/conversations/{id}", s.handleDeleteConversation)
	r.Get("/v1/personas", s.handleListPersonas)
	r.Get("/v1/personas/{name}", s.handleGetPersona)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"personas": len(s.registry.List()),
	})
}

type turnRequest struct {
	ConversationID  string   `json:"conversation_id,omitempty"`
	Utterance       string   `json:"utterance"`
	AuxDescriptions []string `json:"aux_descriptions,omitempty"`
	WantAudio       bool     `json:"want_audio,omitempty"`
}

type turnResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	Persona        string `json:"persona"`
	PersonaSwitch  bool   `json:"persona_switch,omitempty"`
	Voice          string `json:"voice,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	RewrittenQuery string `json:"rewritten_query,omitempty"`
	RetrievedCount int    `json:"retrieved_count"`
	RerankedCount  int    `json:"reranked_count"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	s.serveTurn(w, r, false)
}

// handleVoiceTurn forces voice-attribute resolution regardless of the
// request body.
func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	s.serveTurn(w, r, true)
}

func (s *Server) serveTurn(w http.ResponseWriter, r *http.Request, forceAudio bool) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := s.turns.StartOrContinueTurn(r.Context(), pipeline.TurnRequest{
		ConversationID:  req.ConversationID,
		Utterance:       req.Utterance,
		AuxDescriptions: req.AuxDescriptions,
		WantAudio:       req.WantAudio || forceAudio,
	})
	if err != nil {
		respondTurnError(w, err)
		return
	}
	res := toTurnResponse(result)
	if forceAudio {
		// Voice clients transcribe upstream; echo what the turn answered to.
		res.Transcript = strings.TrimSpace(req.Utterance)
	}
	respondJSON(w, http.StatusOK, res)
}

func toTurnResponse(result pipeline.TurnResult) turnResponse {
	voice := ""
	if result.Voice != "" && result.Voice != persona.GenderUnknown {
		voice = string(result.Voice)
	}
	return turnResponse{
		ConversationID: result.ConversationID,
		Answer:         result.Answer,
		Persona:        result.Persona.Name,
		PersonaSwitch:  result.Switched,
		Voice:          voice,
		RewrittenQuery: result.RewrittenQuery,
		RetrievedCount: result.RetrievedCount,
		RerankedCount:  result.RerankedCount,
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	summaries, err := s.turns.ListConversations(r.Context(), limit)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := s.turns.GetHistory(r.Context(), id)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        messages,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.turns.DeleteConversation(r.Context(), id); err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"personas": s.registry.List()})
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.registry.Find(name)
	if !ok {
		respondError(w, http.StatusNotFound, "persona_not_found", "unknown persona "+name)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

func respondTurnError(w http.ResponseWriter, err error) {
	kind := pipeline.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case pipeline.KindValidation:
		status = http.StatusBadRequest
	case pipeline.KindNotFound:
		status = http.StatusNotFound
	case pipeline.KindUpstream:
		status = http.StatusBadGateway
	}
	respondError(w, status, string(kind), err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// HTTPServer builds the server with header and idle timeouts only; write
// timeouts would kill long-lived websocket connections.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
