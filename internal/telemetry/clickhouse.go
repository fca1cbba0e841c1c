// Package telemetry records per-turn analytics to ClickHouse.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"branchline/internal/chatpipeline"
	"branchline/internal/config"
)

// ClickHouseSink records chatpipeline.TurnRecord values as rows in a
// ClickHouse table. nil *ClickHouseSink (Config.DSN empty) disables
// recording, matching newClickHouseTokenMetrics's "empty DSN means no
// provider" convention.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseSink opens the ClickHouse connection and ensures the turns
// table exists. An empty DSN returns (nil, nil): telemetry recording is
// optional.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	} else if opts.Auth.Database == "" {
		opts.Auth.Database = "branchline"
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctxPing, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(ctxPing); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	table := strings.TrimSpace(cfg.MetricsTable)
	if table == "" {
		table = "chat_turns"
	}
	if err := ensureTurnsTable(ctxPing, conn, opts.Auth.Database, table); err != nil {
		return nil, fmt.Errorf("ensure turns table: %w", err)
	}

	return &ClickHouseSink{conn: conn, table: table}, nil
}

func ensureTurnsTable(ctx context.Context, conn clickhouse.Conn, database, table string) error {
	if err := conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)); err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.%s (
	RecordedAt       DateTime64(3) DEFAULT now64(3),
	SessionID        String,
	NodeID           String,
	TokenEstimate    UInt32,
	Provider         LowCardinality(String),
	Model            String,
	Summarised       UInt8,
	AutoReferenced   UInt8,
	BranchAnalysisRan UInt8,
	RecommendationsLen UInt8
) ENGINE = MergeTree
ORDER BY (SessionID, RecordedAt)
`, database, table)
	return conn.Exec(ctx, ddl)
}

// RecordTurn inserts one turn row, implementing chatpipeline.Telemetry.
// Failures are logged and swallowed — losing an analytics row never fails a
// chat turn.
func (s *ClickHouseSink) RecordTurn(ctx context.Context, rec chatpipeline.TurnRecord) {
	if s == nil || s.conn == nil {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.conn.Exec(insertCtx, fmt.Sprintf(`
INSERT INTO %s (SessionID, NodeID, TokenEstimate, Provider, Model, Summarised, AutoReferenced, BranchAnalysisRan, RecommendationsLen)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, s.table),
		rec.SessionID, rec.NodeID, uint32(rec.TokenEstimate), rec.Provider, rec.Model,
		boolToUint8(rec.Summarised), boolToUint8(rec.AutoReferenced), boolToUint8(rec.BranchAnalysisRan),
		uint8(rec.RecommendationsLen),
	)
	if err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("telemetry: insert turn record failed")
	}
}

func (s *ClickHouseSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
