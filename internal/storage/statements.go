package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/recon-engine/internal/recon"
)

// ImportStatements stages statement lines into a session. Lines already
// staged under the same id count as duplicates and are left untouched.
func (s *Store) ImportStatements(ctx context.Context, sessionID string, txns []recon.StatementTransaction) (recon.ImportResult, error) {
	var result recon.ImportResult
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO statement_transactions (session_id, id, account_id, txn_date, amount, description, external_ref, imported_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, id) DO NOTHING
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare statement insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range txns {
			res, err := stmt.ExecContext(ctx, sessionID, t.ID, t.AccountID, formatDate(t.Date), t.Amount.String(), t.Description, t.ExternalRef, now)
			if err != nil {
				return fmt.Errorf("failed to insert statement %s: %w", t.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			if n == 0 {
				result.Duplicates++
			} else {
				result.Imported++
			}
		}
		return nil
	})
	if err != nil {
		return recon.ImportResult{}, err
	}
	return result, nil
}

// ListStatementTransactions returns the next page of a session's staged lines
// ordered by id. Rows that no longer parse are reported as skipped records.
func (s *Store) ListStatementTransactions(ctx context.Context, sessionID string, page recon.Page) (recon.StatementPage, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, account_id, txn_date, amount, description, external_ref
		FROM statement_transactions
		WHERE session_id = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`), sessionID, page.Cursor, page.Limit)
	if err != nil {
		return recon.StatementPage{}, fmt.Errorf("failed to list statements: %w", err)
	}
	defer rows.Close()

	var (
		out  recon.StatementPage
		last string
		n    int
	)
	for rows.Next() {
		var t recon.StatementTransaction
		var date, amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &date, &amount, &t.Description, &t.ExternalRef); err != nil {
			return recon.StatementPage{}, fmt.Errorf("failed to scan statement: %w", err)
		}
		n++
		last = t.ID

		if t.Date, err = recon.ParseDate(date); err != nil {
			out.Skipped = append(out.Skipped, skipped(t.ID, "invalid date "+date))
			continue
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			out.Skipped = append(out.Skipped, skipped(t.ID, "invalid amount "+amount))
			continue
		}
		out.Transactions = append(out.Transactions, t)
	}
	if err := rows.Err(); err != nil {
		return recon.StatementPage{}, fmt.Errorf("failed to iterate statements: %w", err)
	}
	if page.Limit > 0 && n == page.Limit {
		out.NextCursor = last
	}
	return out, nil
}

// CountStatements returns how many lines are staged in a session.
func (s *Store) CountStatements(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM statement_transactions WHERE session_id = ?`), sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count statements: %w", err)
	}
	return n, nil
}

func skipped(id, msg string) recon.PartialFailure {
	return recon.PartialFailure{
		Kind:     recon.FailureSkippedRecord,
		RecordID: id,
		Message:  msg,
		At:       time.Now().UTC(),
	}
}
