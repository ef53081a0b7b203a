// Package ledger reads internal ledger transactions for reconciliation. The
// ledger is owned by another system and is never written here.
package ledger

import (
	"context"
	"fmt"

	"github.com/example/recon-engine/internal/recon"
)

// DefaultPageSize is used by FetchAll when no page size is given.
const DefaultPageSize = 500

// Adapter pages through an account's ledger transactions inside a date
// window, ordered by id.
type Adapter interface {
	ListLedgerTransactions(ctx context.Context, accountID string, window recon.DateRange, page recon.Page) (recon.LedgerPage, error)
}

// FetchAll drains every page of the adapter.
func FetchAll(ctx context.Context, a Adapter, accountID string, window recon.DateRange, pageSize int) ([]recon.LedgerTransaction, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var (
		out    []recon.LedgerTransaction
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := a.ListLedgerTransactions(ctx, accountID, window, recon.Page{Cursor: cursor, Limit: pageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ledger page after %q: %w", cursor, err)
		}
		out = append(out, page.Transactions...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
