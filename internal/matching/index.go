package matching

import (
	"sort"
	"time"

	"github.com/example/recon-engine/internal/recon"
)

// Index buckets ledger transactions by calendar day.
type Index struct {
	all   []recon.LedgerTransaction
	byDay map[int64][]int
}

// NewIndex builds an index over txns. The slice is copied and sorted by date
// then id so iteration order is deterministic.
func NewIndex(txns []recon.LedgerTransaction) *Index {
	all := append([]recon.LedgerTransaction(nil), txns...)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].ID < all[j].ID
	})
	idx := &Index{all: all, byDay: make(map[int64][]int)}
	for i := range all {
		d := recon.DayNumber(all[i].Date)
		idx.byDay[d] = append(idx.byDay[d], i)
	}
	return idx
}

// Len is the number of indexed transactions.
func (x *Index) Len() int {
	return len(x.all)
}

// Each visits every transaction in date then id order.
func (x *Index) Each(fn func(l *recon.LedgerTransaction)) {
	for i := range x.all {
		fn(&x.all[i])
	}
}

// Near visits transactions dated within windowDays of t.
func (x *Index) Near(t time.Time, windowDays int, fn func(l *recon.LedgerTransaction)) {
	center := recon.DayNumber(t)
	for d := center - int64(windowDays); d <= center+int64(windowDays); d++ {
		for _, i := range x.byDay[d] {
			fn(&x.all[i])
		}
	}
}

// IDs returns every indexed id.
func (x *Index) IDs() []string {
	ids := make([]string, len(x.all))
	for i := range x.all {
		ids[i] = x.all[i].ID
	}
	return ids
}
