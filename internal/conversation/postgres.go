package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			redacted BOOLEAN NOT NULL DEFAULT FALSE,
			image_notes JSONB,
			audio_ref TEXT,
			meta JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv_seq ON conversation_messages (conversation_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context) (Conversation, error) {
	c := Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	c.UpdatedAt = c.CreatedAt

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES ($1, $2, $3)`,
		c.ID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, updated_at FROM conversations WHERE id=$1`, id,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("query conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, redacted, image_notes, audio_ref, meta, created_at
		 FROM conversation_messages WHERE conversation_id=$1 ORDER BY seq`, id,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return Conversation{}, err
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, fmt.Errorf("iterate message rows: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Append(ctx context.Context, id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists string
	err = tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		imageNotes, metaJSON, err := marshalMessageJSON(m)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO conversation_messages (id, conversation_id, role, content, redacted, image_notes, audio_ref, meta, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, id, string(m.Role), m.Content, m.Redacted, imageNotes, nullable(m.AudioRef), metaJSON, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at=$2 WHERE id=$1`, id, now); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.created_at, c.updated_at,
		        m.id, m.role, m.content, m.redacted, m.image_notes, m.audio_ref, m.meta, m.created_at
		 FROM conversations c
		 LEFT JOIN LATERAL (
			SELECT * FROM conversation_messages
			WHERE conversation_id = c.id ORDER BY seq DESC LIMIT 1
		 ) m ON TRUE
		 ORDER BY c.updated_at DESC, c.id LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0, limit)
	for rows.Next() {
		var (
			sum        Summary
			msgID      *string
			role       *string
			content    *string
			redacted   *bool
			imageNotes []byte
			audioRef   *string
			metaJSON   []byte
			createdAt  *time.Time
		)
		err := rows.Scan(&sum.ID, &sum.CreatedAt, &sum.UpdatedAt,
			&msgID, &role, &content, &redacted, &imageNotes, &audioRef, &metaJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if msgID != nil {
			m := Message{ID: *msgID, Role: Role(*role), Content: *content, Redacted: *redacted, CreatedAt: *createdAt}
			if audioRef != nil {
				m.AudioRef = *audioRef
			}
			if err := unmarshalMessageJSON(&m, imageNotes, metaJSON); err != nil {
				return nil, err
			}
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanMessage(rows pgx.Rows) (Message, error) {
	var (
		m          Message
		role       string
		imageNotes []byte
		audioRef   *string
		metaJSON   []byte
	)
	if err := rows.Scan(&m.ID, &role, &m.Content, &m.Redacted, &imageNotes, &audioRef, &metaJSON, &m.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("scan message row: %w", err)
	}
	m.Role = Role(role)
	if audioRef != nil {
		m.AudioRef = *audioRef
	}
	if err := unmarshalMessageJSON(&m, imageNotes, metaJSON); err != nil {
		return Message{}, err
	}
	return m, nil
}

func marshalMessageJSON(m Message) (imageNotes, metaJSON []byte, err error) {
	if len(m.ImageNotes) > 0 {
		imageNotes, err = json.Marshal(m.ImageNotes)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal image notes: %w", err)
		}
	}
	if m.Meta != nil {
		metaJSON, err = json.Marshal(m.Meta)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal message meta: %w", err)
		}
	}
	return imageNotes, metaJSON, nil
}

func unmarshalMessageJSON(m *Message, imageNotes, metaJSON []byte) error {
	if len(imageNotes) > 0 {
		if err := json.Unmarshal(imageNotes, &m.ImageNotes); err != nil {
			return fmt.Errorf("parse image notes: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		m.Meta = &TurnMeta{}
		if err := json.Unmarshal(metaJSON, m.Meta); err != nil {
			return fmt.Errorf("parse message meta: %w", err)
		}
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
