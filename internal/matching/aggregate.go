package matching

import (
	"sort"

	"github.com/example/recon-engine/internal/recon"
)

// Candidate is a proposed pairing before conflict resolution.
type Candidate struct {
	LedgerID    string
	StatementID string
	Source      recon.MatchSource
	Status      recon.MatchStatus
	Confidence  float64

	// Rule ordering, zero for fuzzy candidates.
	RulePriority int
	RuleSeq      int64
}

type pairKey struct {
	ledgerID, statementID string
}

// Claims tracks which transactions already belong to an active match and
// which pairs a reviewer has rejected.
type Claims struct {
	ledger    map[string]struct{}
	statement map[string]struct{}
	rejected  map[pairKey]struct{}
}

// NewClaims returns empty claims.
func NewClaims() *Claims {
	return &Claims{
		ledger:    make(map[string]struct{}),
		statement: make(map[string]struct{}),
		rejected:  make(map[pairKey]struct{}),
	}
}

// Clone returns an independent copy.
func (c *Claims) Clone() *Claims {
	out := NewClaims()
	for k := range c.ledger {
		out.ledger[k] = struct{}{}
	}
	for k := range c.statement {
		out.statement[k] = struct{}{}
	}
	for k := range c.rejected {
		out.rejected[k] = struct{}{}
	}
	return out
}

// Claim marks both sides of a match as taken.
func (c *Claims) Claim(ledgerID, statementID string) {
	c.ledger[ledgerID] = struct{}{}
	c.statement[statementID] = struct{}{}
}

// Reject records a pair that must never be proposed again.
func (c *Claims) Reject(ledgerID, statementID string) {
	c.rejected[pairKey{ledgerID, statementID}] = struct{}{}
}

// LedgerClaimed reports whether the ledger transaction is taken.
func (c *Claims) LedgerClaimed(id string) bool {
	_, ok := c.ledger[id]
	return ok
}

// StatementClaimed reports whether the statement transaction is taken.
func (c *Claims) StatementClaimed(id string) bool {
	_, ok := c.statement[id]
	return ok
}

// Rejected reports whether the pair was rejected earlier.
func (c *Claims) Rejected(ledgerID, statementID string) bool {
	_, ok := c.rejected[pairKey{ledgerID, statementID}]
	return ok
}

func (c *Claims) available(cand Candidate) bool {
	return !c.LedgerClaimed(cand.LedgerID) &&
		!c.StatementClaimed(cand.StatementID) &&
		!c.Rejected(cand.LedgerID, cand.StatementID)
}

// Aggregate resolves candidates into a 1:1 assignment. Rule-confirmed
// candidates are locked first in rule order; the rest are accepted greedily by
// descending confidence as suggestions. Accepted pairs are added to claims.
// The result is independent of the input order.
func Aggregate(cands []Candidate, claims *Claims) []Candidate {
	var locked, rest []Candidate
	for _, c := range cands {
		if c.Source.Kind == recon.SourceRule && c.Status == recon.MatchConfirmed {
			locked = append(locked, c)
		} else {
			rest = append(rest, c)
		}
	}

	sort.Slice(locked, func(i, j int) bool {
		a, b := locked[i], locked[j]
		if a.RulePriority != b.RulePriority {
			return a.RulePriority < b.RulePriority
		}
		if a.RuleSeq != b.RuleSeq {
			return a.RuleSeq < b.RuleSeq
		}
		return lessIDs(a, b)
	})
	sort.Slice(rest, func(i, j int) bool {
		a, b := rest[i], rest[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Source.Kind != b.Source.Kind {
			return a.Source.Kind == recon.SourceRule
		}
		if a.RulePriority != b.RulePriority {
			return a.RulePriority < b.RulePriority
		}
		return lessIDs(a, b)
	})

	var accepted []Candidate
	for _, c := range append(locked, rest...) {
		if !claims.available(c) {
			continue
		}
		if c.Status != recon.MatchConfirmed {
			c.Status = recon.MatchSuggested
		}
		claims.Claim(c.LedgerID, c.StatementID)
		accepted = append(accepted, c)
	}
	return accepted
}

func lessIDs(a, b Candidate) bool {
	if a.StatementID != b.StatementID {
		return a.StatementID < b.StatementID
	}
	return a.LedgerID < b.LedgerID
}
