package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// advisoryLockKey serialises concurrent Append calls across processes.
const advisoryLockKey = int64(1_159_876_544)

const selectColumns = `idx, timestamp, kind, actor, tx_index, data_hash, prev_hash, hash`

// PostgresLog persists the event chain to the wallet_events table.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by the given connection pool.
// The genesis row is created by the schema migration.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	err := row.Scan(&e.Index, &e.Timestamp, &e.Kind, &e.Actor, &e.TxIndex, &e.DataHash, &e.PrevHash, &e.Hash)
	return e, err
}

// Append implements Log. It reads the chain tail and inserts the next entry
// in one transaction under an advisory lock.
func (l *PostgresLog) Append(ctx context.Context, ev wallet.Event) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev, err := scanEntry(tx.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM wallet_events ORDER BY idx DESC LIMIT 1"))
	if err != nil {
		return nil, fmt.Errorf("read event log tail: %w", err)
	}

	entry, err := newEntry(prev, ev)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_events (idx, timestamp, kind, actor, tx_index, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.Kind, entry.Actor,
		entry.TxIndex, entry.DataHash, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert event log entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit event log tx: %w", err)
	}

	l.logger.Debug("event log entry appended",
		zap.Int("idx", entry.Index),
		zap.String("kind", entry.Kind),
		zap.Int("tx_index", entry.TxIndex),
	)
	return entry, nil
}

// Get implements Log.
func (l *PostgresLog) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM wallet_events WHERE idx = $1", index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get event log entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM wallet_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count event log entries: %w", err)
	}
	return n, nil
}

// List implements Log.
func (l *PostgresLog) List(ctx context.Context, offset, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return []*Entry{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := l.pool.Query(ctx,
		"SELECT "+selectColumns+" FROM wallet_events ORDER BY idx ASC OFFSET $1 LIMIT $2",
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list event log: %w", err)
	}
	defer rows.Close()

	out := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event log row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify implements Log. It streams every row in order, so it is O(n) in
// chain length.
func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, "SELECT "+selectColumns+" FROM wallet_events ORDER BY idx ASC")
	if err != nil {
		return fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan event log row: %w", err)
		}
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Log.
func (l *PostgresLog) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM wallet_events ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get event log root: %w", err)
	}
	return hash, nil
}
