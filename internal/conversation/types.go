package conversation

import (
	"context"
	"errors"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var ErrNotFound = errors.New("conversation not found")

// TurnMeta is diagnostic metadata recorded on assistant messages.
type TurnMeta struct {
	Persona        string `json:"persona"`
	RewrittenQuery string `json:"rewritten_query,omitempty"`
	RetrievedCount int    `json:"retrieved_count"`
	RerankedCount  int    `json:"reranked_count"`
}

// Message is one conversational turn half. Immutable once appended.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Redacted   bool      `json:"redacted,omitempty"`
	ImageNotes []string  `json:"image_notes,omitempty"`
	AudioRef   string    `json:"audio_ref,omitempty"`
	Meta       *TurnMeta `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Conversation is an append-only ordered message log.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Summary is a listing row: conversation metadata plus last message preview.
type Summary struct {
	ID          string    `json:"conversation_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastMessage *Message  `json:"last_message,omitempty"`
}

// Store persists conversations. Append is atomic: either all supplied
// messages land, in argument order, or none do. Callers serialize appends
// per conversation id via Locks.
type Store interface {
	Create(ctx context.Context) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	Append(ctx context.Context, id string, msgs ...Message) error
	List(ctx context.Context, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
