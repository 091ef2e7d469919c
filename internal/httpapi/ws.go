package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/pipeline"
	"github.com/kemet-ai/kemet/internal/protocol"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleTurnWS serves a streaming turn connection: the client submits
// client_turn envelopes, the server acknowledges each and replies with a
// turn_result or error_event. Turns on one socket run sequentially; the
// per-conversation lock already serializes cross-socket races.
func (s *Server) handleTurnWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.sendWS(ctx, outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientControl:
			if msg.Action == "ping" {
				s.sendWS(ctx, outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"})
			}
		case protocol.ClientTurn:
			s.runWSTurn(ctx, outbound, msg)
		}

		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) runWSTurn(ctx context.Context, outbound chan<- any, msg protocol.ClientTurn) {
	s.sendWS(ctx, outbound, protocol.TurnAccepted{
		Type:           protocol.TypeTurnAccepted,
		TurnID:         msg.TurnID,
		ConversationID: msg.ConversationID,
	})

	result, err := s.turns.StartOrContinueTurn(ctx, pipeline.TurnRequest{
		ConversationID:  msg.ConversationID,
		Utterance:       msg.Utterance,
		AuxDescriptions: msg.AuxDescriptions,
		WantAudio:       msg.WantAudio,
	})
	if err != nil {
		var turnErr *pipeline.Error
		retryable := errors.As(err, &turnErr) && turnErr.Retryable()
		s.sendWS(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			TurnID:    msg.TurnID,
			Code:      string(pipeline.KindOf(err)),
			Retryable: retryable,
			Detail:    err.Error(),
		})
		return
	}

	voice := ""
	if result.Voice != "" && result.Voice != persona.GenderUnknown {
		voice = string(result.Voice)
	}
	s.sendWS(ctx, outbound, protocol.TurnResult{
		Type:           protocol.TypeTurnResult,
		TurnID:         msg.TurnID,
		ConversationID: result.ConversationID,
		Answer:         result.Answer,
		Persona:        result.Persona.Name,
		PersonaSwitch:  result.Switched,
		Voice:          voice,
	})
}

func (s *Server) sendWS(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}
