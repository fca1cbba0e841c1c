// Package store is the GraphStore: parameterised access to the
// Postgres-backed conversation graph and idempotent schema/index
// bootstrap. Composite properties (metadata, source_node_ids) are stored as
// JSONB; the repositories in internal/graph scan rows and decode them.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgxpool.Pool with the conversation-graph schema.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres with conservative pool defaults and verifies
// connectivity with a short deadline, surfacing Unavailable on boot
// failure so callers can treat it as fatal.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, Malformed("store.open.parse_dsn", err)
	}
	cfg.MaxConns = 16
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, Unavailable("store.open.new_pool", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, Unavailable("store.open.ping", err)
	}
	return &Store{Pool: pool}, nil
}

// OpenPool connects a bare pgxpool.Pool to dsn without the graph schema
// bootstrap, for collaborators that share the graph database's Postgres
// instance but own their own tables (internal/vectorstore's pgvector
// backend).
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, Unavailable("store.open_pool", err)
	}
	return pool, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Init idempotently creates tables and indexes for sessions, nodes,
// messages, and recommendations.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schemaDDL)
	if err != nil {
		return Unavailable("store.init", err)
	}
	return nil
}

// WithTx runs fn inside a single graph transaction; each logical
// operation (create-session-with-root, create-message-and-update-node-stats,
// create-summary-with-sources) is exactly one transaction. A short default
// deadline is applied unless ctx already carries a tighter one.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Unavailable("store.with_tx.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return Unavailable("store.with_tx.commit", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    user_id TEXT,
    root_node_id UUID,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    summary TEXT NOT NULL DEFAULT '',
    summarized_count INTEGER NOT NULL DEFAULT 0,
    last_message_preview TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS sessions_user_updated_idx ON sessions(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS nodes (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    parent_id UUID,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    is_summary BOOLEAN NOT NULL DEFAULT FALSE,
    is_generating BOOLEAN NOT NULL DEFAULT FALSE,
    summary_content TEXT,
    source_node_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
    depth INTEGER NOT NULL DEFAULT 0,
    message_count INTEGER NOT NULL DEFAULT 0,
    token_count INTEGER NOT NULL DEFAULT 0,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS nodes_session_idx ON nodes(session_id);
CREATE INDEX IF NOT EXISTS nodes_parent_idx ON nodes(parent_id);
CREATE INDEX IF NOT EXISTS nodes_type_idx ON nodes(type);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    node_id UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    "timestamp" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    token_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS messages_node_idx ON messages(node_id);
CREATE INDEX IF NOT EXISTS messages_node_ts_idx ON messages(node_id, "timestamp");

CREATE TABLE IF NOT EXISTS recommendations (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    node_id UUID NOT NULL,
    message_id UUID NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT '',
    priority DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    estimated_depth INTEGER NOT NULL DEFAULT 3,
    edge_label TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_branch_id UUID,
    dismissed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS recommendations_message_idx ON recommendations(message_id);
CREATE INDEX IF NOT EXISTS recommendations_node_idx ON recommendations(node_id);
CREATE INDEX IF NOT EXISTS recommendations_session_idx ON recommendations(session_id, status);
`
