package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageTurn(t *testing.T) {
	raw := []byte(`{"type":"client_turn","turn_id":"t1","conversation_id":"c1","utterance":"Tell me about Ramses II","want_audio":true}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	turn, ok := msg.(ClientTurn)
	if !ok {
		t.Fatalf("message type = %T, want ClientTurn", msg)
	}
	if turn.TurnID != "t1" || turn.ConversationID != "c1" {
		t.Fatalf("unexpected turn ids: %+v", turn)
	}
	if !turn.WantAudio {
		t.Fatalf("WantAudio = false, want true")
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":"ping"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != "ping" {
		t.Fatalf("Action = %q, want %q", control.Action, "ping")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidTurn(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_turn","turn_id":"","utterance":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageTurn(b *testing.B) {
	raw := []byte(`{"type":"client_turn","turn_id":"t7","utterance":"What about the temples of Abu Simbel?"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientTurn); !ok {
			b.Fatalf("message type = %T, want ClientTurn", msg)
		}
	}
}
