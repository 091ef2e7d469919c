// Package pipeline runs one conversational turn through the stage sequence
// rewrite, persona resolution, retrieval, rerank, generation, persistence,
// and optional voice-attribute resolution.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kemet-ai/kemet/internal/answer"
	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/conversation"
	"github.com/kemet-ai/kemet/internal/observability"
	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/policy"
	"github.com/kemet-ai/kemet/internal/reliability"
	"github.com/kemet-ai/kemet/internal/retrieval"
	"github.com/kemet-ai/kemet/internal/rewrite"
	"github.com/kemet-ai/kemet/internal/voiceattr"
)

const maxUtteranceLen = 8000

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	// ConversationID continues an existing conversation when set.
	ConversationID string
	Utterance      string
	// AuxDescriptions carry caller-supplied image-derived text. They enrich
	// retrieval but are stored separately from the utterance.
	AuxDescriptions []string
	WantAudio       bool
}

// TurnResult is the complete outcome of a successful turn.
type TurnResult struct {
	ConversationID string
	Answer         string
	Persona        persona.Persona
	Voice          persona.Gender
	Switched       bool
	RewrittenQuery string
	RetrievedCount int
	RerankedCount  int
}

// Coordinator owns the per-turn state machine. All stages from rewrite
// through persist run under the conversation's lock; concurrent turns on
// the same conversation serialize, distinct conversations proceed in
// parallel.
type Coordinator struct {
	store     conversation.Store
	locks     *conversation.Locks
	registry  *persona.Registry
	rewriter  *rewrite.Rewriter
	retriever *retrieval.Coordinator
	generator *answer.Generator
	voices    *voiceattr.Resolver

	metrics *observability.Metrics
	window  *observability.StageWindow
	log     zerolog.Logger

	policy        reliability.Policy
	historyWindow int
	redactStored  bool
}

type Deps struct {
	Store     conversation.Store
	Locks     *conversation.Locks
	Registry  *persona.Registry
	Rewriter  *rewrite.Rewriter
	Retriever *retrieval.Coordinator
	Generator *answer.Generator
	Voices    *voiceattr.Resolver
	Metrics   *observability.Metrics
	Window    *observability.StageWindow
	Log       zerolog.Logger
}

type Options struct {
	HistoryWindow int
	RedactStored  bool
	// Policy bounds the generation call and the degradable rewrite and
	// voice stages.
	Policy reliability.Policy
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 6
	}
	return &Coordinator{
		store:         deps.Store,
		locks:         deps.Locks,
		registry:      deps.Registry,
		rewriter:      deps.Rewriter,
		retriever:     deps.Retriever,
		generator:     deps.Generator,
		voices:        deps.Voices,
		metrics:       deps.Metrics,
		window:        deps.Window,
		log:           deps.Log,
		policy:        opts.Policy,
		historyWindow: opts.HistoryWindow,
		redactStored:  opts.RedactStored,
	}
}

func (c *Coordinator) callTimeout() time.Duration {
	if c.policy.Timeout > 0 {
		return c.policy.Timeout
	}
	return 15 * time.Second
}

// StartOrContinueTurn runs one turn end to end. Either a complete result is
// returned or a classified error; a failed turn never leaves a half-written
// conversation.
func (c *Coordinator) StartOrContinueTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	started := time.Now()
	c.metrics.ActiveTurns.Inc()
	defer c.metrics.ActiveTurns.Dec()

	result, err := c.runTurn(ctx, req)
	if err != nil {
		c.metrics.TurnsTotal.WithLabelValues(string(KindOf(err))).Inc()
		return TurnResult{}, err
	}

	c.metrics.TurnsTotal.WithLabelValues("ok").Inc()
	c.metrics.ObserveTurnLatency(time.Since(started))
	c.window.ObserveSince(observability.StageTurnTotal, started)
	return result, nil
}

func (c *Coordinator) runTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return TurnResult{}, validationErr("utterance must not be empty")
	}
	if len(utterance) > maxUtteranceLen {
		return TurnResult{}, validationErr("utterance too long")
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		created, err := c.store.Create(ctx)
		if err != nil {
			return TurnResult{}, internalErr("start", err)
		}
		conversationID = created.ID
	} else if _, err := c.store.Get(ctx, conversationID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return TurnResult{}, notFoundErr(conversationID)
		}
		return TurnResult{}, internalErr("start", err)
	}

	release := c.locks.Acquire(conversationID)
	defer release()

	// Reload under the lock so a concurrent turn's append is visible.
	conv, err := c.store.Get(ctx, conversationID)
	if err != nil {
		return TurnResult{}, internalErr("start", err)
	}
	history := windowTail(conv.Messages, c.historyWindow)
	previous := c.previousPersona(conv.Messages)

	// REWRITE. Failure degrades to the raw utterance.
	rewriteStart := time.Now()
	effective := utterance
	if len(req.AuxDescriptions) > 0 {
		effective = utterance + "\nVisual context: " + strings.Join(req.AuxDescriptions, "; ")
	}
	previousName := ""
	if previous != nil {
		previousName = previous.Name
	}
	rewriteCtx, cancelRewrite := context.WithTimeout(ctx, c.callTimeout())
	rewritten := c.rewriter.Rewrite(rewriteCtx, effective, history, previousName)
	cancelRewrite()
	c.window.ObserveSince(observability.StageRewrite, rewriteStart)
	if rewritten.Degraded {
		c.metrics.StageDegraded.WithLabelValues(observability.StageRewrite).Inc()
		c.window.ObserveIndicator("rewrite_degraded")
	}

	// RESOLVE_PERSONA. Pure roster lookup, no capability call.
	resolveStart := time.Now()
	resolution := persona.Resolve(c.registry, utterance, rewritten.Query, previous)
	c.window.ObserveSince(observability.StageResolvePersona, resolveStart)
	if resolution.Switched {
		c.metrics.PersonaSwitch.Inc()
	}
	if resolution.Ambiguous {
		c.log.Debug().Str("persona", resolution.Persona.Name).Msg("multiple personas mentioned, first roster match wins")
		c.window.ObserveIndicator("persona_ambiguous")
	}

	// RETRIEVE + RERANK. Persistent upstream failure degrades to an empty
	// context set and the generator produces a scoped refusal.
	retrieved := c.retriever.Retrieve(ctx, rewritten.Query, resolution.Persona)
	if retrieved.Degraded {
		c.metrics.StageDegraded.WithLabelValues(observability.StageRetrieve).Inc()
		c.window.ObserveIndicator("retrieval_degraded")
	}

	// GENERATE. Failure here is terminal: nothing is persisted and the
	// caller gets a retryable classification.
	generateStart := time.Now()
	var answerText string
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		var genErr error
		answerText, genErr = c.generator.Generate(ctx, resolution.Persona, retrieved.Context, rewritten.Query, history)
		return genErr
	})
	c.window.ObserveSince(observability.StageGenerate, generateStart)
	if err != nil {
		c.recordProviderError(err)
		return TurnResult{}, upstreamErr(observability.StageGenerate, err)
	}

	// RESOLVE_VOICE runs concurrently with PERSIST; it does not touch the
	// conversation store.
	voice := persona.GenderUnknown
	voiceDone := make(chan struct{})
	if req.WantAudio {
		go func() {
			defer close(voiceDone)
			voiceStart := time.Now()
			voiceCtx, cancelVoice := context.WithTimeout(ctx, c.callTimeout())
			voice = c.voices.Resolve(voiceCtx, resolution.Persona)
			cancelVoice()
			c.window.ObserveSince(observability.StageResolveVoice, voiceStart)
		}()
	} else {
		close(voiceDone)
	}

	// PERSIST. Both halves of the turn land atomically.
	persistStart := time.Now()
	userMsg := c.buildMessage(conversation.RoleUser, utterance, req.AuxDescriptions, nil)
	assistantMsg := c.buildMessage(conversation.RoleAssistant, answerText, nil, &conversation.TurnMeta{
		Persona:        resolution.Persona.Name,
		RewrittenQuery: rewritten.Query,
		RetrievedCount: retrieved.RetrievedCount,
		RerankedCount:  retrieved.RerankedCount,
	})
	err = c.store.Append(ctx, conversationID, userMsg, assistantMsg)
	c.window.ObserveSince(observability.StagePersist, persistStart)
	<-voiceDone
	if err != nil {
		return TurnResult{}, internalErr(observability.StagePersist, err)
	}

	return TurnResult{
		ConversationID: conversationID,
		Answer:         answerText,
		Persona:        resolution.Persona,
		Voice:          voice,
		Switched:       resolution.Switched,
		RewrittenQuery: rewritten.Query,
		RetrievedCount: retrieved.RetrievedCount,
		RerankedCount:  retrieved.RerankedCount,
	}, nil
}

// GetHistory returns the conversation's messages in append order.
func (c *Coordinator) GetHistory(ctx context.Context, id string) ([]conversation.Message, error) {
	conv, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, notFoundErr(id)
		}
		return nil, internalErr("history", err)
	}
	return conv.Messages, nil
}

// ListConversations returns recent conversations, newest first.
func (c *Coordinator) ListConversations(ctx context.Context, limit int) ([]conversation.Summary, error) {
	summaries, err := c.store.List(ctx, limit)
	if err != nil {
		return nil, internalErr("list", err)
	}
	return summaries, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Coordinator) DeleteConversation(ctx context.Context, id string) error {
	err := c.store.Delete(ctx, id)
	if errors.Is(err, conversation.ErrNotFound) {
		return notFoundErr(id)
	}
	if err != nil {
		return internalErr("delete", err)
	}
	return nil
}

func (c *Coordinator) buildMessage(role conversation.Role, content string, imageNotes []string, meta *conversation.TurnMeta) conversation.Message {
	redacted := false
	if c.redactStored {
		content, redacted = policy.RedactPII(content)
	}
	return conversation.Message{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		Redacted:   redacted,
		ImageNotes: imageNotes,
		Meta:       meta,
		CreatedAt:  time.Now().UTC(),
	}
}

// previousPersona recovers the active persona from the newest assistant
// message that committed one.
func (c *Coordinator) previousPersona(msgs []conversation.Message) *persona.Persona {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != conversation.RoleAssistant || msgs[i].Meta == nil || msgs[i].Meta.Persona == "" {
			continue
		}
		name := msgs[i].Meta.Persona
		if name == persona.NarratorName {
			p := persona.Narrator()
			return &p
		}
		if p, ok := c.registry.Find(name); ok {
			return &p
		}
		c.log.Warn().Str("persona", name).Msg("persisted persona missing from roster, treating as narrator")
		p := persona.Narrator()
		return &p
	}
	return nil
}

func (c *Coordinator) recordProviderError(err error) {
	var call *capability.CallError
	if errors.As(err, &call) {
		c.metrics.ProviderErrors.WithLabelValues(call.Provider, call.Code).Inc()
	}
}

func windowTail(msgs []conversation.Message, n int) []conversation.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
