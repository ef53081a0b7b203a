package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/recon-engine/internal/recon"
)

// UpsertLedgerTransactions writes ledger entries into the local mirror used
// when no external ledger is configured.
func (s *Store) UpsertLedgerTransactions(ctx context.Context, txns []recon.LedgerTransaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO ledger_transactions (id, account_id, txn_date, amount, description)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				account_id = excluded.account_id,
				txn_date = excluded.txn_date,
				amount = excluded.amount,
				description = excluded.description
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare ledger upsert: %w", err)
		}
		defer stmt.Close()

		for _, t := range txns {
			if _, err := stmt.ExecContext(ctx, t.ID, t.AccountID, formatDate(t.Date), t.Amount.String(), t.Description); err != nil {
				return fmt.Errorf("failed to upsert ledger transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ListLedgerTransactions pages through an account's mirrored entries inside
// window, ordered by id.
func (s *Store) ListLedgerTransactions(ctx context.Context, accountID string, window recon.DateRange, page recon.Page) (recon.LedgerPage, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, account_id, txn_date, amount, description
		FROM ledger_transactions
		WHERE account_id = ? AND txn_date >= ? AND txn_date <= ? AND id > ?
		ORDER BY id
		LIMIT ?
	`), accountID, formatDate(window.Start), formatDate(window.End), page.Cursor, page.Limit)
	if err != nil {
		return recon.LedgerPage{}, fmt.Errorf("failed to list ledger transactions: %w", err)
	}
	defer rows.Close()

	var out recon.LedgerPage
	for rows.Next() {
		var t recon.LedgerTransaction
		var date, amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &date, &amount, &t.Description); err != nil {
			return recon.LedgerPage{}, fmt.Errorf("failed to scan ledger transaction: %w", err)
		}
		if t.Date, err = recon.ParseDate(date); err != nil {
			return recon.LedgerPage{}, fmt.Errorf("ledger transaction %s has invalid date: %w", t.ID, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return recon.LedgerPage{}, fmt.Errorf("ledger transaction %s has invalid amount: %w", t.ID, err)
		}
		out.Transactions = append(out.Transactions, t)
	}
	if err := rows.Err(); err != nil {
		return recon.LedgerPage{}, fmt.Errorf("failed to iterate ledger transactions: %w", err)
	}
	if page.Limit > 0 && len(out.Transactions) == page.Limit {
		out.NextCursor = out.Transactions[len(out.Transactions)-1].ID
	}
	return out, nil
}
