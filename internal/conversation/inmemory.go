package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process conversation store for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *InMemoryStore) Create(_ context.Context) (Conversation, error) {
	now := time.Now().UTC()
	c := &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0, 8),
	}

	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()

	return cloneConversation(c), nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *InMemoryStore) Append(_ context.Context, id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		c.Messages = append(c.Messages, m)
	}
	c.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	all := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		all = append(all, c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]Summary, 0, len(all))
	for _, c := range all {
		sum := Summary{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
		if n := len(c.Messages); n > 0 {
			last := c.Messages[n-1]
			sum.LastMessage = &last
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneConversation(c *Conversation) Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
