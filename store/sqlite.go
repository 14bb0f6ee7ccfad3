package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orderdeck/orderdeck/order"
)

//go:embed schema.sql
var schemaDDL string

var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal persists snapshots and deltas to a local sqlite file so a
// restart can seed the store before the feed reconnects. The single-writer
// mutex matches sqlite's concurrency model.
type SQLiteJournal struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// OpenJournal opens (and migrates) the journal at path. Use ":memory:" for
// an ephemeral journal.
func OpenJournal(path string, logger *slog.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if logger != nil {
		j.logger = logger
	}
	return j, nil
}

func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// RecordSnapshot journals a full replacement of the order collection.
func (j *SQLiteJournal) RecordSnapshot(ctx context.Context, orders []order.Order, receivedAt string) error {
	payload, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.exec(ctx,
		`INSERT INTO order_snapshots (received_at, count, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		receivedAt, len(orders), payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// RecordDelta journals one applied patch.
func (j *SQLiteJournal) RecordDelta(ctx context.Context, id string, patch order.Patch) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.exec(ctx,
		`INSERT INTO order_deltas (order_id, payload, recorded_at) VALUES (?, ?, ?)`,
		id, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record delta: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently journaled snapshot, or ok=false
// when the journal holds none.
func (j *SQLiteJournal) LatestSnapshot(ctx context.Context) (orders []order.Order, receivedAt string, ok bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var payload []byte
	row := j.queryRow(ctx,
		`SELECT received_at, payload FROM order_snapshots ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&receivedAt, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &orders); err != nil {
		return nil, "", false, fmt.Errorf("decode snapshot: %w", err)
	}
	return orders, receivedAt, true, nil
}

// DeltasSince returns journaled patches recorded after the latest snapshot,
// in insertion order, for startup replay.
func (j *SQLiteJournal) DeltasSince(ctx context.Context) ([]order.Delta, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.query(ctx, `
SELECT order_id, payload FROM order_deltas
WHERE recorded_at >= COALESCE((SELECT MAX(recorded_at) FROM order_snapshots), 0)
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load deltas: %w", err)
	}
	defer rows.Close()

	var out []order.Delta
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan delta: %w", err)
		}
		var patch order.Patch
		if err := json.Unmarshal(payload, &patch); err != nil {
			return nil, fmt.Errorf("decode delta %s: %w", id, err)
		}
		out = append(out, order.Delta{ID: id, Changes: patch})
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := j.db.ExecContext(ctx, query, args...)
	if j.logger != nil {
		j.logger.Log(ctx, slog.LevelDebug, "sql exec",
			slog.String("query", query),
			slog.Duration("duration", time.Since(start)),
			slog.Any("err", err),
		)
	}
	return res, err
}

func (j *SQLiteJournal) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := j.db.QueryContext(ctx, query, args...)
	if j.logger != nil {
		j.logger.Log(ctx, slog.LevelDebug, "sql query",
			slog.String("query", query),
			slog.Duration("duration", time.Since(start)),
			slog.Any("err", err),
		)
	}
	return rows, err
}

func (j *SQLiteJournal) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if j.logger != nil {
		j.logger.Log(ctx, slog.LevelDebug, "sql query row",
			slog.String("query", query),
		)
	}
	return j.db.QueryRowContext(ctx, query, args...)
}
