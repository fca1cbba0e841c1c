package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgvectorStore is the fallback embedding backend when no dedicated vector
// database is configured.
type pgvectorStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPgvector ensures the pgvector extension and embeddings table exist and
// returns a Store backed by them.
func NewPgvector(ctx context.Context, pool *pgxpool.Pool, dimension int) (Store, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	vecType := "vector"
	if dimension > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimension)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS message_embeddings (
    message_id TEXT PRIMARY KEY,
    vec %s
)`, vecType)); err != nil {
		return nil, fmt.Errorf("create message_embeddings table: %w", err)
	}
	return &pgvectorStore{pool: pool, dimension: dimension}, nil
}

func toVectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (p *pgvectorStore) Upsert(ctx context.Context, id string, vector []float32) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO message_embeddings(message_id, vec) VALUES ($1, $2::vector)
ON CONFLICT (message_id) DO UPDATE SET vec = EXCLUDED.vec`, id, toVectorLiteral(vector))
	return err
}

func (p *pgvectorStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM message_embeddings WHERE message_id = $1`, id)
	return err
}

func (p *pgvectorStore) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := p.pool.Query(ctx, `
SELECT message_id, 1 - (vec <=> $1::vector) AS score
FROM message_embeddings
ORDER BY vec <=> $1::vector
LIMIT $2`, toVectorLiteral(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, rows.Err()
}

func (p *pgvectorStore) Close() {}
