package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lp_sentinel/internal/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cycles (
	cycle_id   TEXT PRIMARY KEY,
	started_at BIGINT NOT NULL,
	payload    TEXT NOT NULL,
	checksum   BYTEA NOT NULL,
	saved_at   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	id         BIGSERIAL PRIMARY KEY,
	cycle_id   TEXT NOT NULL,
	pool_id    TEXT NOT NULL,
	decided_at BIGINT NOT NULL,
	payload    TEXT NOT NULL,
	checksum   BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions (decided_at);
`

// PostgresStore implements Store on a pgx connection pool. It writes the same
// checksummed JSON rows as the SQLite backend, for deployments where the
// journal should live in shared infrastructure instead of a local file.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn, verifies the connection,
// and ensures the journal schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveCycle(ctx context.Context, summary core.CycleSummary) error {
	data, checksum, err := encodeRecord(summary)
	if err != nil {
		return fmt.Errorf("encode cycle %s: %w", summary.CycleID, err)
	}

	query := `
		INSERT INTO cycles (cycle_id, started_at, payload, checksum, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cycle_id) DO UPDATE
		SET started_at = EXCLUDED.started_at,
		    payload    = EXCLUDED.payload,
		    checksum   = EXCLUDED.checksum,
		    saved_at   = EXCLUDED.saved_at`

	_, err = s.pool.Exec(ctx, query,
		summary.CycleID, summary.StartedAt.UnixNano(), data, checksum, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveDecision(ctx context.Context, event core.DecisionEvent) error {
	data, checksum, err := encodeRecord(event)
	if err != nil {
		return fmt.Errorf("encode decision %s/%s: %w", event.CycleID, event.PoolID, err)
	}

	query := `
		INSERT INTO decisions (cycle_id, pool_id, decided_at, payload, checksum)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.pool.Exec(ctx, query,
		event.CycleID, event.PoolID, event.Timestamp.UnixNano(), data, checksum)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentDecisions(ctx context.Context, limit int) ([]core.DecisionEvent, error) {
	query := `SELECT id, payload, checksum FROM decisions ORDER BY decided_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
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
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		if err := verifyChecksum([]byte(data), checksum); err != nil {
			return nil, fmt.Errorf("decision row %d: %w", id, err)
		}
		var event core.DecisionEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("unmarshal decision row %d: %w", id, err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// LatestCycle returns the most recently started cycle summary, or nil when the
// journal is empty.
func (s *PostgresStore) LatestCycle(ctx context.Context) (*core.CycleSummary, error) {
	query := `SELECT payload, checksum FROM cycles ORDER BY started_at DESC LIMIT 1`
	var (
		data     string
		checksum []byte
	)
	err := s.pool.QueryRow(ctx, query).Scan(&data, &checksum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest cycle: %w", err)
	}
	if err := verifyChecksum([]byte(data), checksum); err != nil {
		return nil, fmt.Errorf("latest cycle: %w", err)
	}
	var summary core.CycleSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal latest cycle: %w", err)
	}
	return &summary, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
