package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lp_sentinel/internal/core"
	apperrors "lp_sentinel/pkg/errors"
	"lp_sentinel/pkg/retry"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cycles (
	cycle_id   TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	saved_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id   TEXT NOT NULL,
	pool_id    TEXT NOT NULL,
	decided_at INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	checksum   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions (decided_at);
`

// busyPolicy retries writes that lose the WAL writer lock to a concurrent
// connection. SQLite surfaces that as SQLITE_BUSY rather than queuing.
var busyPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

// SQLiteStore implements Store on a single-file SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the journal database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveCycle(ctx context.Context, summary core.CycleSummary) error {
	data, checksum, err := encodeRecord(summary)
	if err != nil {
		return fmt.Errorf("failed to encode cycle %s: %w", summary.CycleID, err)
	}

	query := `INSERT OR REPLACE INTO cycles (cycle_id, started_at, payload, checksum, saved_at) VALUES (?, ?, ?, ?, ?)`
	return retry.Do(ctx, busyPolicy, isSQLiteBusy, func() error {
		return s.writeTx(ctx, query,
			summary.CycleID, summary.StartedAt.UnixNano(), data, checksum, time.Now().UnixNano())
	})
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, event core.DecisionEvent) error {
	data, checksum, err := encodeRecord(event)
	if err != nil {
		return fmt.Errorf("failed to encode decision %s/%s: %w", event.CycleID, event.PoolID, err)
	}

	query := `INSERT INTO decisions (cycle_id, pool_id, decided_at, payload, checksum) VALUES (?, ?, ?, ?, ?)`
	return retry.Do(ctx, busyPolicy, isSQLiteBusy, func() error {
		return s.writeTx(ctx, query,
			event.CycleID, event.PoolID, event.Timestamp.UnixNano(), data, checksum)
	})
}

func (s *SQLiteStore) RecentDecisions(ctx context.Context, limit int) ([]core.DecisionEvent, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}

	query := `SELECT id, payload, checksum FROM decisions ORDER BY decided_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}
	defer rows.Close()

	var out []core.DecisionEvent
	for rows.Next() {
		var (
			id       int64
			data     string
			checksum []byte
		)
		if err := rows.Scan(&id, &data, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		if err := verifyChecksum([]byte(data), checksum); err != nil {
			return nil, fmt.Errorf("decision row %d: %w", id, err)
		}
		var event core.DecisionEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decision row %d: %w", id, err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// LatestCycle returns the most recently started cycle summary, or nil when the
// journal is empty.
func (s *SQLiteStore) LatestCycle(ctx context.Context) (*core.CycleSummary, error) {
	query := `SELECT payload, checksum FROM cycles ORDER BY started_at DESC LIMIT 1`
	var (
		data     string
		checksum []byte
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&data, &checksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest cycle: %w", err)
	}
	if err := verifyChecksum([]byte(data), checksum); err != nil {
		return nil, fmt.Errorf("latest cycle: %w", err)
	}
	var summary core.CycleSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest cycle: %w", err)
	}
	return &summary, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// writeTx runs a single statement inside a serializable transaction so a
// crash mid-write never leaves a partial row visible.
func (s *SQLiteStore) writeTx(ctx context.Context, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write journal row: %w", err)
	}

	return tx.Commit()
}

// encodeRecord marshals v, validates the JSON round-trips, and returns the
// payload with its sha256 checksum.
func encodeRecord(v any) (string, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal: %w", err)
	}

	// Validate JSON (round-trip test)
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", nil, fmt.Errorf("round-trip validation: %w", err)
	}

	checksum := sha256.Sum256(data)
	return string(data), checksum[:], nil
}

func verifyChecksum(data, stored []byte) error {
	computed := sha256.Sum256(data)
	if len(stored) != len(computed) {
		return fmt.Errorf("checksum length mismatch: expected %d, got %d: %w",
			len(computed), len(stored), apperrors.ErrChecksumMismatch)
	}
	for i := range computed {
		if stored[i] != computed[i] {
			return apperrors.ErrChecksumMismatch
		}
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
