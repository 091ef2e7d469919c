package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SharedPartition is the corpus partition every retrieval is scoped to in
// addition to the active persona's own partition.
const SharedPartition = "shared"

// PgvectorIndex is a similarity index over a pgvector-equipped PostgreSQL
// corpus table. Ingestion fills the table out of band; the core only reads.
type PgvectorIndex struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPgvectorIndex(ctx context.Context, databaseURL string, dim int) (*PgvectorIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS corpus_chunks (
			id TEXT PRIMARY KEY,
			partition TEXT NOT NULL DEFAULT '%s',
			source TEXT,
			content TEXT NOT NULL,
			embedding vector(%d)
		);`, SharedPartition, dim),
		`CREATE INDEX IF NOT EXISTS idx_corpus_chunks_partition ON corpus_chunks (partition);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init corpus schema failed on %q: %w", stmt, err)
		}
	}

	return &PgvectorIndex{pool: pool, dim: dim}, nil
}

func (x *PgvectorIndex) Search(ctx context.Context, vector []float32, partitions []string, topN int) ([]Passage, error) {
	if len(vector) != x.dim {
		return nil, &CallError{Provider: "pgvector", Code: "dimension_mismatch", Transient: false,
			Err: fmt.Errorf("got %d dims, index has %d", len(vector), x.dim)}
	}
	if topN <= 0 {
		topN = 30
	}
	if len(partitions) == 0 {
		partitions = []string{SharedPartition}
	}

	// Cosine distance ascending equals similarity descending; the secondary
	// id ordering keeps equal-distance results deterministic.
	rows, err := x.pool.Query(ctx,
		`SELECT id, partition, source, content, 1 - (embedding <=> $1::vector) AS score
		 FROM corpus_chunks
		 WHERE partition = ANY($2)
		 ORDER BY embedding <=> $1::vector, id
		 LIMIT $3`,
		vectorLiteral(vector), partitions, topN,
	)
	if err != nil {
		return nil, &CallError{Provider: "pgvector", Code: "query_failed", Transient: true, Err: err}
	}
	defer rows.Close()

	out := make([]Passage, 0, topN)
	for rows.Next() {
		var p Passage
		var source *string
		if err := rows.Scan(&p.ID, &p.Partition, &source, &p.Text, &p.Score); err != nil {
			return nil, fmt.Errorf("scan corpus row: %w", err)
		}
		if source != nil {
			p.Source = *source
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &CallError{Provider: "pgvector", Code: "iterate_failed", Transient: true, Err: err}
	}
	return out, nil
}

func (x *PgvectorIndex) Close() error {
	x.pool.Close()
	return nil
}

// vectorLiteral renders the pgvector input format: [v1,v2,...].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
