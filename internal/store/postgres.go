package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kandev/agentcore/internal/common/config"
	"github.com/kandev/agentcore/internal/rl"
)

func patternActionKind(i int) rl.ActionKind { return rl.ActionKind(i) }

// PostgresPatternStore is a durable PatternStore backed by PostgreSQL,
// intended for multi-replica orchestrators that need learned patterns to
// survive restarts and be shared across processes.
type PostgresPatternStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPatternStore opens a pooled Postgres connection and ensures the
// patterns table exists.
func NewPostgresPatternStore(ctx context.Context, cfg config.PatternConfig) (*PostgresPatternStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern store config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern store pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping pattern store: %w", err)
	}

	s := &PostgresPatternStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize pattern store schema: %w", err)
	}
	return s, nil
}

func (s *PostgresPatternStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS routing_patterns (
			task_type  TEXT PRIMARY KEY,
			pattern_id TEXT NOT NULL,
			action_kind INTEGER NOT NULL,
			action_role TEXT NOT NULL DEFAULT '',
			score      DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresPatternStore) SavePattern(ctx context.Context, p Pattern) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO routing_patterns (task_type, pattern_id, action_kind, action_role, score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_type) DO UPDATE SET
			pattern_id = EXCLUDED.pattern_id,
			action_kind = EXCLUDED.action_kind,
			action_role = EXCLUDED.action_role,
			score = EXCLUDED.score,
			updated_at = EXCLUDED.updated_at`,
		p.TaskType, p.ID, int(p.Action.Kind), p.Action.Role, p.Score, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

func (s *PostgresPatternStore) GetPattern(ctx context.Context, taskType string) (Pattern, bool, error) {
	var p Pattern
	var actionKind int
	row := s.pool.QueryRow(ctx, `
		SELECT task_type, pattern_id, action_kind, action_role, score, updated_at
		FROM routing_patterns WHERE task_type = $1`, taskType)
	err := row.Scan(&p.TaskType, &p.ID, &actionKind, &p.Action.Role, &p.Score, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Pattern{}, false, nil
		}
		return Pattern{}, false, fmt.Errorf("failed to get pattern: %w", err)
	}
	p.Action.Kind = patternActionKind(actionKind)
	return p, true, nil
}

func (s *PostgresPatternStore) ListPatterns(ctx context.Context) ([]Pattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_type, pattern_id, action_kind, action_role, score, updated_at
		FROM routing_patterns ORDER BY task_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		var actionKind int
		if err := rows.Scan(&p.TaskType, &p.ID, &actionKind, &p.Action.Role, &p.Score, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		p.Action.Kind = patternActionKind(actionKind)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *PostgresPatternStore) Close() {
	s.pool.Close()
}

var _ PatternStore = (*PostgresPatternStore)(nil)
