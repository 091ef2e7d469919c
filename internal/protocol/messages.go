// Package protocol defines the websocket message envelopes for streaming
// turn submission and results.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTurn    MessageType = "client_turn"
	TypeClientControl MessageType = "client_control"
	TypeTurnAccepted  MessageType = "turn_accepted"
	TypeTurnResult    MessageType = "turn_result"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTurn submits one user turn over the socket.
type ClientTurn struct {
	Type            MessageType `json:"type"`
	TurnID          string      `json:"turn_id"`
	ConversationID  string      `json:"conversation_id,omitempty"`
	Utterance       string      `json:"utterance"`
	AuxDescriptions []string    `json:"aux_descriptions,omitempty"`
	WantAudio       bool        `json:"want_audio,omitempty"`
}

// ClientControl carries socket-level actions ("ping", "close").
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// TurnAccepted acknowledges a turn before the pipeline runs.
type TurnAccepted struct {
	Type           MessageType `json:"type"`
	TurnID         string      `json:"turn_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

// TurnResult is the complete answer for one submitted turn.
type TurnResult struct {
	Type           MessageType `json:"type"`
	TurnID         string      `json:"turn_id"`
	ConversationID string      `json:"conversation_id"`
	Answer         string      `json:"answer"`
	Persona        string      `json:"persona"`
	PersonaSwitch  bool        `json:"persona_switch,omitempty"`
	Voice          string      `json:"voice,omitempty"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	TurnID    string      `json:"turn_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound socket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTurn:
		var msg ClientTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.TurnID == "" || msg.Utterance == "" {
			return nil, errors.New("invalid client_turn")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
