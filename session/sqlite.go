package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rapp-os/brainstem/core/protocol"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	last_active INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	capabilities TEXT,
	trace        TEXT,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);
`

// sqliteStore persists session logs in a SQLite database. Pins are
// process-local; they protect sessions from this process's evictor only.
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time

	mu   sync.Mutex
	pins map[string]int
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed Store at path.
func NewSQLiteStore(path string) (Store, error) {
	return newSQLiteStore(path, time.Now)
}

func newSQLiteStore(path string, now func() time.Time) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers; appends to a session commit in
	// the order they acquire it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &sqliteStore{db: db, now: now, pins: make(map[string]int)}, nil
}

// claim ensures the session row exists, owned by userID, and touches it.
func (s *sqliteStore) claim(ctx context.Context, tx *sql.Tx, userID, sessionID string) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
	now := s.now().UnixNano()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, created_at, last_active) VALUES (?, ?, ?, ?)`,
			sessionID, userID, now, now)
		return err
	case err != nil:
		return err
	case owner != userID:
		return fmt.Errorf("%w: %s", ErrIdentityMismatch, sessionID)
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET last_active = ? WHERE id = ?`, now, sessionID)
	return err
}

func (s *sqliteStore) Pin(ctx context.Context, userID, sessionID string) (func(), error) {
	if userID == "" {
		return nil, ErrInvalidIdentity
	}
	if sessionID == "" {
		return noRelease, nil
	}

	// Holding mu across the check keeps Evict from deleting the row between
	// the ownership check and the pin.
	s.mu.Lock()
	defer s.mu.Unlock()

	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return noRelease, nil
	case err != nil:
		return nil, err
	case owner != userID:
		return nil, fmt.Errorf("%w: %s", ErrIdentityMismatch, sessionID)
	}
	s.pins[sessionID]++

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.pins[sessionID]--; s.pins[sessionID] <= 0 {
				delete(s.pins, sessionID)
			}
			s.db.ExecContext(context.Background(),
				`UPDATE sessions SET last_active = ? WHERE id = ?`, s.now().UnixNano(), sessionID)
		})
	}, nil
}

func (s *sqliteStore) History(ctx context.Context, userID, sessionID string) ([]protocol.Turn, error) {
	if userID == "" {
		return nil, ErrInvalidIdentity
	}
	if sessionID == "" {
		return nil, nil
	}

	var turns []protocol.Turn
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if owner != userID {
			return fmt.Errorf("%w: %s", ErrIdentityMismatch, sessionID)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT role, content, created_at, capabilities, trace FROM turns WHERE session_id = ? ORDER BY seq`,
			sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t           protocol.Turn
				role        string
				createdAt   int64
				caps, trace sql.NullString
			)
			if err := rows.Scan(&role, &t.Content, &createdAt, &caps, &trace); err != nil {
				return err
			}
			t.Role = protocol.Role(role)
			t.Timestamp = time.Unix(0, createdAt).UTC()
			if err := decodeList(caps, &t.Capabilities); err != nil {
				return err
			}
			if err := decodeList(trace, &t.Trace); err != nil {
				return err
			}
			turns = append(turns, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *sqliteStore) Append(ctx context.Context, userID, sessionID string, turns ...protocol.Turn) (string, error) {
	if userID == "" {
		return "", ErrInvalidIdentity
	}
	if sessionID == "" {
		sessionID = NewID()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.claim(ctx, tx, userID, sessionID); err != nil {
			return err
		}

		var seq int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
			return err
		}

		for _, t := range turns {
			seq++
			caps, err := encodeList(t.Capabilities)
			if err != nil {
				return err
			}
			trace, err := encodeList(t.Trace)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO turns (session_id, seq, role, content, created_at, capabilities, trace) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				sessionID, seq, string(t.Role), t.Content, t.Timestamp.UnixNano(), caps, trace); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (s *sqliteStore) Evict(ctx context.Context, idleSince time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := idleSince.UnixNano()
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE last_active < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if s.pins[id] == 0 {
			candidates = append(candidates, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	evicted := 0
	for _, id := range candidates {
		// The idle condition is rechecked so a concurrent append wins.
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND last_active < ?`, id, cutoff)
		if err != nil {
			return evicted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			evicted++
		}
	}
	return evicted, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeList(list []string) (sql.NullString, error) {
	if len(list) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeList(raw sql.NullString, dst *[]string) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}
