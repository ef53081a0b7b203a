package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/example/recon-engine/internal/recon"
)

// MemoryLedger is an in-process ledger used by tests and demos.
type MemoryLedger struct {
	mu   sync.RWMutex
	txns map[string]recon.LedgerTransaction
}

// NewMemoryLedger returns a ledger holding txns.
func NewMemoryLedger(txns ...recon.LedgerTransaction) *MemoryLedger {
	m := &MemoryLedger{txns: make(map[string]recon.LedgerTransaction, len(txns))}
	m.Add(txns...)
	return m
}

// Add inserts or replaces transactions.
func (m *MemoryLedger) Add(txns ...recon.LedgerTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txns {
		m.txns[t.ID] = t
	}
}

// ListLedgerTransactions implements Adapter.
func (m *MemoryLedger) ListLedgerTransactions(ctx context.Context, accountID string, window recon.DateRange, page recon.Page) (recon.LedgerPage, error) {
	if err := ctx.Err(); err != nil {
		return recon.LedgerPage{}, err
	}
	m.mu.RLock()
	var matched []recon.LedgerTransaction
	for _, t := range m.txns {
		if t.AccountID == accountID && window.Contains(t.Date) && t.ID > page.Cursor {
			matched = append(matched, t)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	var out recon.LedgerPage
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
		out.NextCursor = matched[len(matched)-1].ID
	}
	out.Transactions = matched
	return out, nil
}
