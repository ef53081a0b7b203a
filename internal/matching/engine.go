package matching

import (
	"context"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/rules"
)

// Engine produces rule and fuzzy candidates and resolves them.
type Engine struct {
	program *rules.Program
	scorer  *Scorer
}

// NewEngine combines a compiled rule program with a scorer. program may be nil.
func NewEngine(program *rules.Program, scorer *Scorer) *Engine {
	return &Engine{program: program, scorer: scorer}
}

// Candidates proposes pairings for st among ledger transactions that are not
// claimed and not rejected with st. Pairs resolved by a rule are not scored.
func (e *Engine) Candidates(idx *Index, st *recon.StatementTransaction, claims *Claims) []Candidate {
	var out []Candidate
	ruled := make(map[string]struct{})

	if e.program != nil && e.program.Len() > 0 {
		idx.Each(func(l *recon.LedgerTransaction) {
			if claims.LedgerClaimed(l.ID) || claims.Rejected(l.ID, st.ID) {
				return
			}
			o, ok := e.program.Match(l, st)
			if !ok {
				return
			}
			status := recon.MatchSuggested
			if o.AutoMatch {
				status = recon.MatchConfirmed
			}
			ruled[l.ID] = struct{}{}
			out = append(out, Candidate{
				LedgerID:     l.ID,
				StatementID:  st.ID,
				Source:       recon.RuleSource(o.RuleID),
				Status:       status,
				Confidence:   o.Confidence,
				RulePriority: o.Priority,
				RuleSeq:      o.Seq,
			})
		})
	}

	eligible := func(l *recon.LedgerTransaction) bool {
		if _, ok := ruled[l.ID]; ok {
			return false
		}
		return !claims.LedgerClaimed(l.ID) && !claims.Rejected(l.ID, st.ID)
	}
	for _, sp := range e.scorer.TopCandidates(idx, st, eligible) {
		out = append(out, Candidate{
			LedgerID:    sp.Ledger.ID,
			StatementID: st.ID,
			Source:      recon.FuzzySource(sp.Confidence),
			Status:      recon.MatchSuggested,
			Confidence:  sp.Confidence,
		})
	}
	return out
}

// AutoCandidates proposes only the pairings an auto-match rule confirms.
func (e *Engine) AutoCandidates(idx *Index, st *recon.StatementTransaction, claims *Claims) []Candidate {
	if !e.program.HasAutoMatch() {
		return nil
	}
	var out []Candidate
	idx.Each(func(l *recon.LedgerTransaction) {
		if claims.LedgerClaimed(l.ID) || claims.Rejected(l.ID, st.ID) {
			return
		}
		o, ok := e.program.Match(l, st)
		if !ok || !o.AutoMatch {
			return
		}
		out = append(out, Candidate{
			LedgerID:     l.ID,
			StatementID:  st.ID,
			Source:       recon.RuleSource(o.RuleID),
			Status:       recon.MatchConfirmed,
			Confidence:   o.Confidence,
			RulePriority: o.Priority,
			RuleSeq:      o.Seq,
		})
	})
	return out
}

// Resolve repeats candidate generation and aggregation over stmts until no
// further pair can be accepted, so a statement that lost its best partner
// still gets its next best. claims is updated in place.
func (e *Engine) Resolve(ctx context.Context, idx *Index, stmts []recon.StatementTransaction, claims *Claims) ([]Candidate, error) {
	return e.resolve(ctx, idx, stmts, claims, e.Candidates)
}

// ResolveAuto is Resolve restricted to auto-match rule pairings. Running it
// over every statement before Resolve locks rule-confirmed matches in ahead
// of fuzzy suggestions regardless of how statements are batched.
func (e *Engine) ResolveAuto(ctx context.Context, idx *Index, stmts []recon.StatementTransaction, claims *Claims) ([]Candidate, error) {
	return e.resolve(ctx, idx, stmts, claims, e.AutoCandidates)
}

type candidateFunc func(idx *Index, st *recon.StatementTransaction, claims *Claims) []Candidate

func (e *Engine) resolve(ctx context.Context, idx *Index, stmts []recon.StatementTransaction, claims *Claims, gen candidateFunc) ([]Candidate, error) {
	var accepted []Candidate
	for {
		var cands []Candidate
		for i := range stmts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if claims.StatementClaimed(stmts[i].ID) {
				continue
			}
			cands = append(cands, gen(idx, &stmts[i], claims)...)
		}
		got := Aggregate(cands, claims)
		if len(got) == 0 {
			return accepted, nil
		}
		accepted = append(accepted, got...)
	}
}
