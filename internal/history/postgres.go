package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PGStore)(nil)

// PGStore persists sessions in a PostgreSQL practice_sessions table. The
// transcript is stored as a JSONB column; the retention cap is enforced with
// a delete-oldest statement after each insert.
//
// All methods are safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
	max  int
}

// NewPGStore creates a store over the given pool and ensures the schema
// exists. maxSessions <= 0 selects [DefaultMaxSessions].
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, maxSessions int) (*PGStore, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS practice_sessions (
		    id         text PRIMARY KEY,
		    started_at timestamptz NOT NULL,
		    language   text NOT NULL,
		    mode       text NOT NULL,
		    situation  text NOT NULL DEFAULT '',
		    preview    text NOT NULL DEFAULT '',
		    entries    jsonb NOT NULL DEFAULT '[]'
		)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}

	return &PGStore{pool: pool, max: maxSessions}, nil
}

// Save implements Store.
func (s *PGStore) Save(ctx context.Context, sess Session) error {
	entries, err := json.Marshal(sess.Entries)
	if err != nil {
		return fmt.Errorf("history: marshal entries: %w", err)
	}

	const insert = `
		INSERT INTO practice_sessions
		    (id, started_at, language, mode, situation, preview, entries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    started_at = EXCLUDED.started_at,
		    language   = EXCLUDED.language,
		    mode       = EXCLUDED.mode,
		    situation  = EXCLUDED.situation,
		    preview    = EXCLUDED.preview,
		    entries    = EXCLUDED.entries`

	if _, err := s.pool.Exec(ctx, insert,
		sess.ID,
		sess.StartedAt,
		sess.Language,
		sess.Mode,
		sess.Situation,
		sess.Preview,
		entries,
	); err != nil {
		return fmt.Errorf("history: save session: %w", err)
	}

	// Enforce the retention cap by evicting the oldest sessions.
	const evict = `
		DELETE FROM practice_sessions
		WHERE id IN (
		    SELECT id FROM practice_sessions
		    ORDER BY started_at DESC
		    OFFSET $1
		)`
	if _, err := s.pool.Exec(ctx, evict, s.max); err != nil {
		return fmt.Errorf("history: evict oldest: %w", err)
	}
	return nil
}

// List implements Store. Sessions are returned newest first.
func (s *PGStore) List(ctx context.Context) ([]Session, error) {
	const q = `
		SELECT id, started_at, language, mode, situation, preview, entries
		FROM   practice_sessions
		ORDER  BY started_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Session, error) {
		var (
			sess        Session
			entriesJSON []byte
		)
		if err := row.Scan(
			&sess.ID,
			&sess.StartedAt,
			&sess.Language,
			&sess.Mode,
			&sess.Situation,
			&sess.Preview,
			&entriesJSON,
		); err != nil {
			return Session{}, err
		}
		if err := json.Unmarshal(entriesJSON, &sess.Entries); err != nil {
			return Session{}, err
		}
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// Delete implements Store.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM practice_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("history: delete session: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *PGStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM practice_sessions`); err != nil {
		return fmt.Errorf("history: clear sessions: %w", err)
	}
	return nil
}
