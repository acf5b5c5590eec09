package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kandev/agentcore/internal/rl"
)

// SQLiteExperienceStore is a durable ExperienceStore backed by SQLite,
// intended for offline replay/analysis once a deployment outgrows the
// in-memory default.
type SQLiteExperienceStore struct {
	db *sql.DB
}

// NewSQLiteExperienceStore opens (creating if needed) a SQLite-backed
// experience log at dbPath.
func NewSQLiteExperienceStore(dbPath string) (*SQLiteExperienceStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open experience database: %w", err)
	}

	// SQLite only supports one writer; serialize through a single conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteExperienceStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize experience schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteExperienceStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experience (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		state_key TEXT NOT NULL,
		action TEXT NOT NULL,
		reward REAL NOT NULL,
		done INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_experience_created_at ON experience(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// actionEncoding is the JSON-serializable mirror of rl.Action, since Action's
// Composite field makes it awkward to round-trip through encoding/json
// directly without exporting helper constructors.
type actionEncoding struct {
	Kind            rl.ActionKind `json:"kind"`
	Role            string        `json:"role,omitempty"`
	TokenBucket     uint32        `json:"token_bucket,omitempty"`
	PatternID       string        `json:"pattern_id,omitempty"`
	CompressionName string        `json:"compression_name,omitempty"`
}

func encodeAction(a rl.Action) (string, error) {
	enc := actionEncoding{
		Kind:            a.Kind,
		Role:            a.Role,
		TokenBucket:     a.TokenBucket,
		PatternID:       a.PatternID,
		CompressionName: a.CompressionName,
	}
	raw, err := json.Marshal(enc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeAction(raw string) (rl.Action, error) {
	var enc actionEncoding
	if err := json.Unmarshal([]byte(raw), &enc); err != nil {
		return rl.Action{}, err
	}
	return rl.Action{
		Kind:            enc.Kind,
		Role:            enc.Role,
		TokenBucket:     enc.TokenBucket,
		PatternID:       enc.PatternID,
		CompressionName: enc.CompressionName,
	}, nil
}

func (s *SQLiteExperienceStore) AppendExperience(ctx context.Context, rec ExperienceRecord) error {
	actionJSON, err := encodeAction(rec.Action)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	done := 0
	if rec.Done {
		done = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experience (state_key, action, reward, done, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.StateKey, actionJSON, rec.Reward, done, createdAt)
	if err != nil {
		return fmt.Errorf("failed to append experience: %w", err)
	}
	return nil
}

func (s *SQLiteExperienceStore) ListExperience(ctx context.Context, limit int) ([]ExperienceRecord, error) {
	query := `SELECT id, state_key, action, reward, done, created_at FROM experience ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experience: %w", err)
	}
	defer rows.Close()

	var out []ExperienceRecord
	for rows.Next() {
		var rec ExperienceRecord
		var actionJSON string
		var done int
		if err := rows.Scan(&rec.ID, &rec.StateKey, &actionJSON, &rec.Reward, &done, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan experience row: %w", err)
		}
		rec.Done = done != 0
		rec.Action, err = decodeAction(actionJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode action: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first, matching the in-memory store's ordering.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteExperienceStore) Close() error {
	return s.db.Close()
}

var _ ExperienceStore = (*SQLiteExperienceStore)(nil)
