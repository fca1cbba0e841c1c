package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"branchline/internal/idgen"
	"branchline/internal/store"
)

// SessionRepo is the Session entity repository.
type SessionRepo struct {
	pool  *pgxpool.Pool
	ids   idgen.IdGen
	clock idgen.Clock
}

func NewSessionRepo(pool *pgxpool.Pool, ids idgen.IdGen, clock idgen.Clock) *SessionRepo {
	return &SessionRepo{pool: pool, ids: ids, clock: clock}
}

// Create performs the combined session+root-node insert in one
// transaction: a session always holds exactly one root node created
// atomically with it.
func (r *SessionRepo) Create(ctx context.Context, title string, userID *string, metadata map[string]any) (Session, Node, error) {
	if strings.TrimSpace(title) == "" {
		return Session{}, Node{}, store.Malformed("session.create", errors.New("title required"))
	}
	now := r.clock.Now()
	sessionID := r.ids.NewID()
	rootID := r.ids.NewID()

	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return Session{}, Node{}, store.Malformed("session.create.metadata", err)
	}
	emptyIDs, _ := encodeIDs(nil)

	var sess Session
	var root Node
	txErr := runTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO sessions (id, title, user_id, root_node_id, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			sessionID, title, userID, rootID, metaJSON, now)
		if err != nil {
			return store.Unavailable("session.create.insert_session", err)
		}

		_, err = tx.Exec(ctx, `
INSERT INTO nodes (id, session_id, parent_id, title, content, type, is_active, depth, metadata, source_node_ids, created_at, updated_at)
VALUES ($1, $2, NULL, $3, '', $4, TRUE, 0, '{}'::jsonb, $5, $6, $6)`,
			rootID, sessionID, title, string(NodeRoot), emptyIDs, now)
		if err != nil {
			return store.Unavailable("session.create.insert_root", err)
		}
		return nil
	})
	if txErr != nil {
		return Session{}, Node{}, txErr
	}

	sess = Session{ID: sessionID, Title: title, UserID: userID, RootNodeID: &rootID, Metadata: metadata, CreatedAt: now, UpdatedAt: now}
	root = Node{ID: rootID, SessionID: sessionID, Title: title, Type: NodeRoot, IsActive: true, Depth: 0, Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now}
	return sess, root, nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (Session, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, title, user_id, root_node_id, metadata, summary, summarized_count, last_message_preview, created_at, updated_at
FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// List returns sessions ordered by updated_at desc, optionally filtered by
// user_id.
func (r *SessionRepo) List(ctx context.Context, userID *string, skip, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, title, user_id, root_node_id, metadata, summary, summarized_count, last_message_preview, created_at, updated_at
FROM sessions
WHERE ($1::text IS NULL OR user_id = $1)
ORDER BY updated_at DESC
OFFSET $2 LIMIT $3`, userID, skip, limit)
	if err != nil {
		return nil, store.Unavailable("session.list", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionRepo) Update(ctx context.Context, id string, patch SessionPatch) (Session, error) {
	now := r.clock.Now()
	sets := []string{"updated_at = $1"}
	args := []any{now}
	n := 2

	if patch.Title != nil {
		sets = append(sets, placeholder("title", n))
		args = append(args, *patch.Title)
		n++
	}
	if patch.Metadata != nil {
		raw, err := encodeMetadata(patch.Metadata)
		if err != nil {
			return Session{}, store.Malformed("session.update.metadata", err)
		}
		sets = append(sets, placeholder("metadata", n))
		args = append(args, raw)
		n++
	}
	args = append(args, id)

	query := "UPDATE sessions SET " + strings.Join(sets, ", ") + " WHERE id = $" + itoa(n)
	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return Session{}, store.Unavailable("session.update", err)
	}
	if ct.RowsAffected() == 0 {
		return Session{}, store.NotFound("session.update", errors.New(id))
	}
	return r.Get(ctx, id)
}

// Delete cascades by session edge in a single transaction: messages, then
// nodes, then the session. ON DELETE CASCADE on the foreign keys
// does this for us once the session row is removed.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return store.Unavailable("session.delete", err)
	}
	if ct.RowsAffected() == 0 {
		return store.NotFound("session.delete", errors.New(id))
	}
	return nil
}

// RecordMessagePreview updates the session's last_message_preview rollup
// so session list views don't need a graph walk per row.
func (r *SessionRepo) RecordMessagePreview(ctx context.Context, sessionID, preview string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_message_preview = $1, updated_at = $2 WHERE id = $3`,
		preview, r.clock.Now(), sessionID)
	if err != nil {
		return store.Unavailable("session.record_message_preview", err)
	}
	return nil
}

// RecordSummary updates the session's coarse summary rollup whenever
// SummaryEngine completes a fill.
func (r *SessionRepo) RecordSummary(ctx context.Context, sessionID, summary string, summarizedCount int) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET summary = $1, summarized_count = $2, updated_at = $3 WHERE id = $4`,
		summary, summarizedCount, r.clock.Now(), sessionID)
	if err != nil {
		return store.Unavailable("session.record_summary", err)
	}
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var metaRaw []byte
	if err := row.Scan(&s.ID, &s.Title, &s.UserID, &s.RootNodeID, &metaRaw, &s.Summary, &s.SummarizedCount, &s.LastMessagePreview, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, store.NotFound("session.scan", err)
		}
		return Session{}, store.Unavailable("session.scan", err)
	}
	meta, err := decodeMetadata(metaRaw)
	if err != nil {
		return Session{}, store.Malformed("session.scan.metadata", err)
	}
	s.Metadata = meta
	return s, nil
}

func runTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.Unavailable("tx.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Unavailable("tx.commit", err)
	}
	return nil
}
