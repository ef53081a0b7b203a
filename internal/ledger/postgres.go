package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/recon-engine/internal/recon"
)

// PostgresLedger reads journal entries of a double-entry ledger. Debits are
// reported as positive amounts and credits as negative ones, so a payment
// out of a cash account lines up with the negative bank statement line.
type PostgresLedger struct {
	Pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL ledger reader
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{Pool: pool}
}

// ListLedgerTransactions returns one page of journal entries for the account.
func (pl *PostgresLedger) ListLedgerTransactions(ctx context.Context, accountID string, window recon.DateRange, page recon.Page) (recon.LedgerPage, error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		out, err := pl.listWithSnapshot(ctx, accountID, window, page)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				// Serialization failure, retry
				if attempt == maxRetries-1 {
					return recon.LedgerPage{}, fmt.Errorf("failed to list journal entries after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return recon.LedgerPage{}, fmt.Errorf("failed to list journal entries: %w", err)
		}
		return out, nil
	}
	return recon.LedgerPage{}, fmt.Errorf("failed to list journal entries")
}

// listWithSnapshot reads one page inside a read-only REPEATABLE READ transaction
func (pl *PostgresLedger) listWithSnapshot(ctx context.Context, accountID string, window recon.DateRange, page recon.Page) (recon.LedgerPage, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := pl.Pool.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return recon.LedgerPage{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	rows, err := tx.Query(queryCtx, `
		SELECT
			id::text,
			account_id::text,
			to_char(created_at, 'YYYY-MM-DD'),
			(CASE WHEN entry_type = 'debit' THEN amount ELSE -amount END)::text,
			description
		FROM journal_entries
		WHERE account_id::text = $1
		  AND created_at >= $2::date
		  AND created_at < ($3::date + INTERVAL '1 day')
		  AND id::text > $4
		ORDER BY id::text
		LIMIT $5
	`, accountID, window.Start.Format(recon.DateLayout), window.End.Format(recon.DateLayout), page.Cursor, page.Limit)
	if err != nil {
		return recon.LedgerPage{}, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var out recon.LedgerPage
	for rows.Next() {
		var (
			t            recon.LedgerTransaction
			date, amount string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &date, &amount, &t.Description); err != nil {
			return recon.LedgerPage{}, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if t.Date, err = recon.ParseDate(date); err != nil {
			return recon.LedgerPage{}, fmt.Errorf("journal entry %s has invalid date: %w", t.ID, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return recon.LedgerPage{}, fmt.Errorf("journal entry %s has invalid amount: %w", t.ID, err)
		}
		out.Transactions = append(out.Transactions, t)
	}
	if err := rows.Err(); err != nil {
		return recon.LedgerPage{}, fmt.Errorf("failed to iterate journal entries: %w", err)
	}

	if err := tx.Commit(queryCtx); err != nil {
		return recon.LedgerPage{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if page.Limit > 0 && len(out.Transactions) == page.Limit {
		out.NextCursor = out.Transactions[len(out.Transactions)-1].ID
	}
	return out, nil
}

// Close closes the connection pool
func (pl *PostgresLedger) Close() {
	pl.Pool.Close()
}
