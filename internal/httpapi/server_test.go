package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kemet-ai/kemet/internal/answer"
	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/config"
	"github.com/kemet-ai/kemet/internal/conversation"
	"github.com/kemet-ai/kemet/internal/observability"
	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/pipeline"
	"github.com/kemet-ai/kemet/internal/protocol"
	"github.com/kemet-ai/kemet/internal/reliability"
	"github.com/kemet-ai/kemet/internal/retrieval"
	"github.com/kemet-ai/kemet/internal/rewrite"
	"github.com/kemet-ai/kemet/internal/voiceattr"
)

func newTestServer(t *testing.T, namespace string) *Server {
	t.Helper()

	mock := capability.NewMockProvider(8, nil)
	log := zerolog.Nop()
	registry := persona.NewRegistry(persona.Seed())
	window := observability.NewStageWindow(64)
	policy := reliability.Policy{
		Timeout:     time.Second,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	}

	turns := pipeline.NewCoordinator(pipeline.Deps{
		Store:     conversation.NewInMemoryStore(),
		Locks:     conversation.NewLocks(),
		Registry:  registry,
		Rewriter:  rewrite.NewRewriter(mock, 6, log),
		Retriever: retrieval.NewCoordinator(mock, mock, mock, retrieval.Config{TopN: 30, TopK: 8, CharBudget: 6000, Policy: policy}, log),
		Generator: answer.NewGenerator(mock, 6),
		Voices:    voiceattr.NewResolver(mock, log),
		Metrics:   observability.NewMetrics(namespace),
		Window:    window,
		Log:       log,
	}, pipelineOptions(policy))

	cfg := config.Config{BindAddr: "127.0.0.1:0", AllowAnyOrigin: true}
	return New(cfg, turns, registry, window, log)
}

func pipelineOptions(policy reliability.Policy) pipeline.Options {
	return pipeline.Options{HistoryWindow: 6, Policy: policy}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestTurnEndpoint(t *testing.T) {
	s := newTestServer(t, "kemet_http_turn")
	router := s.Router()

	rec := postJSON(t, router, "/v1/turns", map[string]any{"utterance": "Tell me about Ramses II"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res turnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Persona != "Ramses II" {
		t.Fatalf("persona = %q, want Ramses II", res.Persona)
	}
	if res.ConversationID == "" || res.Answer == "" {
		t.Fatalf("incomplete response: %+v", res)
	}

	follow := postJSON(t, router, "/v1/turns", map[string]any{
		"conversation_id": res.ConversationID,
		"utterance":       "What about his temples?",
	})
	if follow.Code != http.StatusOK {
		t.Fatalf("follow-up status = %d, body = %s", follow.Code, follow.Body.String())
	}
	var followRes turnResponse
	if err := json.Unmarshal(follow.Body.Bytes(), &followRes); err != nil {
		t.Fatalf("decode follow-up: %v", err)
	}
	if followRes.Persona != "Ramses II" {
		t.Fatalf("follow-up persona = %q, want Ramses II", followRes.Persona)
	}
	if !strings.Contains(followRes.RewrittenQuery, "Ramses II") {
		t.Fatalf("follow-up rewrite = %q", followRes.RewrittenQuery)
	}
}

func TestTurnEndpointErrors(t *testing.T) {
	s := newTestServer(t, "kemet_http_turnerr")
	router := s.Router()

	rec := postJSON(t, router, "/v1/turns", map[string]any{"utterance": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty utterance status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, router, "/v1/turns", map[string]any{
		"conversation_id": "missing",
		"utterance":       "hello",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown conversation status = %d, want 404", rec.Code)
	}
}

func TestVoiceTurnEndpointForcesAudio(t *testing.T) {
	s := newTestServer(t, "kemet_http_voiceturn")
	rec := postJSON(t, s.Router(), "/v1/turns/voice", map[string]any{"utterance": "Tell me about Hatshepsut"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res turnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Voice != "female" {
		t.Fatalf("voice = %q, want female", res.Voice)
	}
}

func TestConversationEndpoints(t *testing.T) {
	s := newTestServer(t, "kemet_http_convs")
	router := s.Router()

	rec := postJSON(t, router, "/v1/turns", map[string]any{"utterance": "Tell me about Khufu"})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed turn status = %d", rec.Code)
	}
	var res turnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), res.ConversationID) {
		t.Fatalf("listing missing conversation: %s", listRec.Body.String())
	}

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/v1/conversations/"+res.ConversationID, nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
	var got struct {
		Messages []conversation.Message `json:"messages"`
	}
	if err := json.Unmarshal(getRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.Messages))
	}

	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, httptest.NewRequest(http.MethodDelete, "/v1/conversations/"+res.ConversationID, nil))
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", delRec.Code)
	}

	missingRec := httptest.NewRecorder()
	router.ServeHTTP(missingRec, httptest.NewRequest(http.MethodGet, "/v1/conversations/"+res.ConversationID, nil))
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("deleted conversation status = %d, want 404", missingRec.Code)
	}
}

func TestPersonaEndpoints(t *testing.T) {
	s := newTestServer(t, "kemet_http_personas")
	router := s.Router()

	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/v1/personas", nil))
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), "Hatshepsut") {
		t.Fatalf("roster missing expected persona: %s", listRec.Body.String())
	}

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/v1/personas/cleopatra%20vii", nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("case-insensitive lookup status = %d", getRec.Code)
	}

	missRec := httptest.NewRecorder()
	router.ServeHTTP(missRec, httptest.NewRequest(http.MethodGet, "/v1/personas/nobody", nil))
	if missRec.Code != http.StatusNotFound {
		t.Fatalf("unknown persona status = %d, want 404", missRec.Code)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	s := newTestServer(t, "kemet_http_perf")
	router := s.Router()

	postJSON(t, router, "/v1/turns", map[string]any{"utterance": "Tell me about Akhenaten"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/perf/latency", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap observability.StageSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Stages) == 0 {
		t.Fatal("expected stage samples after a turn")
	}
}

func TestTurnWebsocket(t *testing.T) {
	s := newTestServer(t, "kemet_http_ws")
	server := httptest.NewServer(s.Router())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/turns/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	turn := protocol.ClientTurn{
		Type:      protocol.TypeClientTurn,
		TurnID:    "t1",
		Utterance: "Tell me about Ramses II",
	}
	if err := conn.WriteJSON(turn); err != nil {
		t.Fatalf("write turn: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var accepted protocol.TurnAccepted
	if err := conn.ReadJSON(&accepted); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if accepted.Type != protocol.TypeTurnAccepted || accepted.TurnID != "t1" {
		t.Fatalf("unexpected ack: %+v", accepted)
	}

	var result protocol.TurnResult
	if err := conn.ReadJSON(&result); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if result.Type != protocol.TypeTurnResult || result.Persona != "Ramses II" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ConversationID == "" || result.Answer == "" {
		t.Fatalf("incomplete result: %+v", result)
	}
}
