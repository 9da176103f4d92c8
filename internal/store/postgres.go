package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// advisoryLockKey serialises writers from every walletd instance sharing
// the database.
const advisoryLockKey = int64(1_297_041_223)

// registryID is the primary key of the single wallet_registry row.
const registryID = 1

// PostgresStore persists wallet state to PostgreSQL. Amounts are stored as
// NUMERIC(78,0) and exchanged with the driver as decimal text.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Load implements wallet.Store.
func (s *PostgresStore) Load(ctx context.Context) (*wallet.Snapshot, error) {
	var (
		owners    []string
		threshold int
		balance   string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT owners, threshold, balance::text FROM wallet_registry WHERE id = $1`, registryID,
	).Scan(&owners, &threshold, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet registry: %w", err)
	}

	snap := &wallet.Snapshot{Threshold: threshold}
	for _, o := range owners {
		snap.Owners = append(snap.Owners, common.HexToAddress(o))
	}
	if snap.Balance, err = parseAmount(balance); err != nil {
		return nil, fmt.Errorf("load wallet balance: %w", err)
	}

	if snap.Transactions, err = s.loadTransactions(ctx); err != nil {
		return nil, err
	}
	if snap.Confirmations, err = s.loadConfirmations(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *PostgresStore) loadTransactions(ctx context.Context) ([]wallet.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idx, to_addr, value::text, data, num_confirmations, executed,
		        submitted_by, submitted_at, executed_at
		 FROM wallet_transactions ORDER BY idx ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []wallet.Transaction
	for rows.Next() {
		var (
			tx          wallet.Transaction
			to, by, val string
			executedAt  *time.Time
		)
		if err := rows.Scan(
			&tx.Index, &to, &val, &tx.Data, &tx.NumConfirmations, &tx.Executed,
			&by, &tx.SubmittedAt, &executedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		tx.To = common.HexToAddress(to)
		tx.SubmittedBy = common.HexToAddress(by)
		tx.ExecutedAt = executedAt
		if tx.Value, err = parseAmount(val); err != nil {
			return nil, fmt.Errorf("transaction %d value: %w", tx.Index, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadConfirmations(ctx context.Context) ([]wallet.Confirmation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idx, owner FROM wallet_confirmations ORDER BY idx ASC, owner ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query wallet confirmations: %w", err)
	}
	defer rows.Close()

	var out []wallet.Confirmation
	for rows.Next() {
		var (
			idx   int
			owner string
		)
		if err := rows.Scan(&idx, &owner); err != nil {
			return nil, fmt.Errorf("scan wallet confirmation: %w", err)
		}
		out = append(out, wallet.Confirmation{Index: idx, Owner: common.HexToAddress(owner), Confirmed: true})
	}
	return out, rows.Err()
}

// Save implements wallet.Store. The change set is applied in one database
// transaction under a transaction-scoped advisory lock.
func (s *PostgresStore) Save(ctx context.Context, cs *wallet.ChangeSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if cs.Registry != nil {
		owners := make([]string, len(cs.Registry.Owners))
		for i, o := range cs.Registry.Owners {
			owners[i] = o.Hex()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_registry (id, owners, threshold, balance, updated_at)
			 VALUES ($1, $2, $3, 0, NOW())`,
			registryID, owners, cs.Registry.Threshold,
		); err != nil {
			return fmt.Errorf("insert wallet registry: %w", err)
		}
	}

	if cs.Balance != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE wallet_registry SET balance = $2::numeric, updated_at = NOW() WHERE id = $1`,
			registryID, cs.Balance.String(),
		)
		if err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errNotInitialised
		}
	}

	for _, t := range cs.Transactions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_transactions
			     (idx, to_addr, value, data, num_confirmations, executed, submitted_by, submitted_at, executed_at)
			 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (idx) DO UPDATE SET
			     num_confirmations = EXCLUDED.num_confirmations,
			     executed          = EXCLUDED.executed,
			     executed_at       = EXCLUDED.executed_at`,
			t.Index, t.To.Hex(), amountText(t.Value), t.Data, t.NumConfirmations, t.Executed,
			t.SubmittedBy.Hex(), t.SubmittedAt, t.ExecutedAt,
		); err != nil {
			return fmt.Errorf("upsert wallet transaction %d: %w", t.Index, err)
		}
	}

	for _, c := range cs.Confirmations {
		if c.Confirmed {
			_, err = tx.Exec(ctx,
				`INSERT INTO wallet_confirmations (idx, owner, confirmed_at)
				 VALUES ($1, $2, NOW()) ON CONFLICT (idx, owner) DO NOTHING`,
				c.Index, c.Owner.Hex(),
			)
		} else {
			_, err = tx.Exec(ctx,
				`DELETE FROM wallet_confirmations WHERE idx = $1 AND owner = $2`,
				c.Index, c.Owner.Hex(),
			)
		}
		if err != nil {
			return fmt.Errorf("write confirmation %d/%s: %w", c.Index, c.Owner.Hex(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit wallet tx: %w", err)
	}

	s.logger.Debug("wallet state saved",
		zap.Int("transactions", len(cs.Transactions)),
		zap.Int("confirmations", len(cs.Confirmations)),
		zap.Bool("balance", cs.Balance != nil),
	)
	return nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
