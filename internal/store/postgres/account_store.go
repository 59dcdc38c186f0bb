package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// SaveBalances replaces the stored balance table with balances in a single
// transaction. Accounts absent from balances are removed.
func (s *AccountStore) SaveBalances(ctx context.Context, balances map[common.Address]*big.Int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save balances: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM account_balances`); err != nil {
		return fmt.Errorf("postgres: save balances: clear: %w", err)
	}

	if len(balances) > 0 {
		batch := &pgx.Batch{}
		const query = `INSERT INTO account_balances (address, balance, updated_at)
			VALUES ($1, $2::text::numeric, NOW())`
		for addr, v := range balances {
			batch.Queue(query, addr.Hex(), numericText(v))
		}
		br := tx.SendBatch(ctx, batch)
		for range balances {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: save balances: insert: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: save balances: close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save balances: commit: %w", err)
	}
	return nil
}

// LoadBalances returns every stored balance.
func (s *AccountStore) LoadBalances(ctx context.Context) (map[common.Address]*big.Int, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, balance::text FROM account_balances`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load balances: %w", err)
	}
	defer rows.Close()

	out := make(map[common.Address]*big.Int)
	for rows.Next() {
		var addr, balance string
		if err := rows.Scan(&addr, &balance); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		v, err := parseNumeric(balance)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(addr)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load balances rows: %w", err)
	}
	return out, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
