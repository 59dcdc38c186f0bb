package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `id::text, contract, seq, kind, account, auction,
	amount::text, item, duration_seconds, at`

// Append inserts events using a pgx Batch. Events already stored under the
// same (contract, seq) are skipped, so replays are harmless.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO auction_events (
			id, contract, seq, kind, account, auction,
			amount, item, duration_seconds, at
		) VALUES (
			$1::text::uuid, $2, $3, $4, $5, $6,
			$7::text::numeric, $8, $9, $10
		) ON CONFLICT (contract, seq) DO NOTHING`

	for _, e := range events {
		batch.Queue(query,
			e.ID, e.Contract.Hex(), int64(e.Seq), string(e.Kind),
			e.Account.Hex(), e.Auction.Hex(),
			numericTextPtr(e.Amount), e.Item, e.DurationSeconds, e.At,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append event batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByContract returns the events emitted by one contract in sequence
// order, with pagination and optional time filtering.
func (s *EventStore) ListByContract(ctx context.Context, contract common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM auction_events WHERE contract = $1`
	args := []any{contract.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by contract: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e                          domain.Event
			contractHex, account, auct string
			kind                       string
			seq                        int64
			amount                     *string
		)
		if err := rows.Scan(
			&e.ID, &contractHex, &seq, &kind, &account, &auct,
			&amount, &e.Item, &e.DurationSeconds, &e.At,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if e.Amount, err = parseNumericPtr(amount); err != nil {
			return nil, fmt.Errorf("postgres: scan event %s: %w", e.ID, err)
		}
		e.Contract = common.HexToAddress(contractHex)
		e.Account = common.HexToAddress(account)
		e.Auction = common.HexToAddress(auct)
		e.Kind = domain.EventKind(kind)
		e.Seq = uint64(seq)
		e.At = e.At.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

var _ domain.EventStore = (*EventStore)(nil)
