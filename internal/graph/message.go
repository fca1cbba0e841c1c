package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"branchline/internal/idgen"
	"branchline/internal/store"
	"branchline/internal/vectorstore"
)

// MessageRepo is the Message entity repository.
type MessageRepo struct {
	pool    *pgxpool.Pool
	ids     idgen.IdGen
	clock   idgen.Clock
	vectors vectorstore.Store
}

func NewMessageRepo(pool *pgxpool.Pool, ids idgen.IdGen, clock idgen.Clock, vectors vectorstore.Store) *MessageRepo {
	return &MessageRepo{pool: pool, ids: ids, clock: clock, vectors: vectors}
}

// estimateTokens approximates token counts as word-split × 1.5; the count
// feeds budget heuristics, not exact accounting.
func estimateTokens(content string) int {
	words := strings.Fields(content)
	return int(float64(len(words)) * 1.5)
}

// Create persists msg in a transaction that also recomputes the host node's
// message_count, token_count, and updated_at.
func (r *MessageRepo) Create(ctx context.Context, nodeID string, role Role, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, store.Malformed("message.create", errors.New("content required"))
	}
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Message{}, store.Malformed("message.create", errors.New("invalid role"))
	}

	now := r.clock.Now()
	id := r.ids.NewID()
	tokens := estimateTokens(content)

	err := runTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO messages (id, node_id, role, content, "timestamp", token_count)
VALUES ($1, $2, $3, $4, $5, $6)`, id, nodeID, string(role), content, now, tokens)
		if err != nil {
			return store.Unavailable("message.create.insert", err)
		}
		_, err = tx.Exec(ctx, `
UPDATE nodes SET
    message_count = (SELECT COUNT(*) FROM messages WHERE node_id = $1),
    token_count = (SELECT COALESCE(SUM(token_count), 0) FROM messages WHERE node_id = $1),
    updated_at = $2
WHERE id = $1`, nodeID, now)
		if err != nil {
			return store.Unavailable("message.create.update_node", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, NodeID: nodeID, Role: role, Content: content, Timestamp: now, TokenCount: tokens}, nil
}

// ListByNode returns a node's messages ordered by timestamp.
func (r *MessageRepo) ListByNode(ctx context.Context, nodeID string) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, node_id, role, content, "timestamp", token_count FROM messages WHERE node_id = $1 ORDER BY "timestamp"`, nodeID)
	if err != nil {
		return nil, store.Unavailable("message.list_by_node", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.NodeID, &m.Role, &m.Content, &m.Timestamp, &m.TokenCount); err != nil {
			return nil, store.Unavailable("message.list_by_node.scan", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByNodes fetches messages for multiple nodes in a single batch,
// ordered by timestamp.
func (r *MessageRepo) ListByNodes(ctx context.Context, nodeIDs []string) ([]Message, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, node_id, role, content, "timestamp", token_count FROM messages WHERE node_id = ANY($1) ORDER BY "timestamp"`, nodeIDs)
	if err != nil {
		return nil, store.Unavailable("message.list_by_nodes", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.NodeID, &m.Role, &m.Content, &m.Timestamp, &m.TokenCount); err != nil {
			return nil, store.Unavailable("message.list_by_nodes.scan", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) Get(ctx context.Context, id string) (Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, node_id, role, content, "timestamp", token_count FROM messages WHERE id = $1`, id)
	var m Message
	if err := row.Scan(&m.ID, &m.NodeID, &m.Role, &m.Content, &m.Timestamp, &m.TokenCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, store.NotFound("message.get", err)
		}
		return Message{}, store.Unavailable("message.get", err)
	}
	return m, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return store.Unavailable("message.delete", err)
	}
	if ct.RowsAffected() == 0 {
		return store.NotFound("message.delete", errors.New(id))
	}
	return nil
}

// SetEmbedding is the one mutation messages permit besides create. The
// vector itself lives in the optional vectorstore subsystem, not the
// relational schema.
func (r *MessageRepo) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	if r.vectors == nil {
		return store.Unavailable("message.set_embedding", errors.New("vectorstore not configured"))
	}
	return r.vectors.Upsert(ctx, id, vector)
}
