package matching

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/rules"
)

func fuzzyCand(ledgerID, statementID string, conf float64) Candidate {
	return Candidate{LedgerID: ledgerID, StatementID: statementID, Source: recon.FuzzySource(conf), Status: recon.MatchSuggested, Confidence: conf}
}

func ruleCand(ledgerID, statementID, ruleID string, priority int, seq int64, auto bool) Candidate {
	status := recon.MatchSuggested
	if auto {
		status = recon.MatchConfirmed
	}
	return Candidate{LedgerID: ledgerID, StatementID: statementID, Source: recon.RuleSource(ruleID), Status: status, Confidence: 1, RulePriority: priority, RuleSeq: seq}
}

func assertOneToOne(t *testing.T, got []Candidate) {
	t.Helper()
	seenL, seenS := map[string]bool{}, map[string]bool{}
	for _, c := range got {
		assert.False(t, seenL[c.LedgerID], "ledger %s used twice", c.LedgerID)
		assert.False(t, seenS[c.StatementID], "statement %s used twice", c.StatementID)
		seenL[c.LedgerID], seenS[c.StatementID] = true, true
	}
}

func TestAggregate_RuleConfirmedLockedFirst(t *testing.T) {
	cands := []Candidate{
		fuzzyCand("l1", "s2", 0.99),
		ruleCand("l1", "s1", "r-late", 3, 1, true),
		ruleCand("l2", "s1", "r-early", 1, 2, true),
		fuzzyCand("l1", "s1", 0.95),
	}

	got := Aggregate(cands, NewClaims())
	require.Len(t, got, 2)
	assertOneToOne(t, got)

	assert.Equal(t, "l2", got[0].LedgerID)
	assert.Equal(t, "s1", got[0].StatementID)
	assert.Equal(t, recon.MatchConfirmed, got[0].Status)
	assert.Equal(t, "r-early", got[0].Source.RuleID)

	assert.Equal(t, "l1", got[1].LedgerID)
	assert.Equal(t, "s2", got[1].StatementID)
	assert.Equal(t, recon.MatchSuggested, got[1].Status)
}

func TestAggregate_GreedyByConfidence(t *testing.T) {
	cands := []Candidate{
		fuzzyCand("l1", "s1", 0.70),
		fuzzyCand("l1", "s2", 0.90),
		fuzzyCand("l2", "s1", 0.65),
		fuzzyCand("l2", "s2", 0.80),
	}
	got := Aggregate(cands, NewClaims())
	require.Len(t, got, 2)
	assertOneToOne(t, got)
	assert.Equal(t, fuzzyCand("l1", "s2", 0.90), got[0])
	assert.Equal(t, fuzzyCand("l2", "s1", 0.65), got[1])
}

func TestAggregate_RespectsClaimsAndRejections(t *testing.T) {
	claims := NewClaims()
	claims.Claim("l1", "s-old")
	claims.Reject("l2", "s1")

	got := Aggregate([]Candidate{
		fuzzyCand("l1", "s1", 0.9),
		fuzzyCand("l2", "s1", 0.8),
		fuzzyCand("l3", "s1", 0.7),
	}, claims)
	require.Len(t, got, 1)
	assert.Equal(t, "l3", got[0].LedgerID)
	assert.True(t, claims.LedgerClaimed("l3"))
	assert.True(t, claims.StatementClaimed("s1"))
}

func TestAggregate_OrderIndependent(t *testing.T) {
	base := []Candidate{
		fuzzyCand("l1", "s1", 0.8),
		fuzzyCand("l2", "s1", 0.8),
		fuzzyCand("l1", "s2", 0.8),
		fuzzyCand("l2", "s2", 0.7),
		ruleCand("l3", "s3", "r", 1, 1, false),
		fuzzyCand("l3", "s2", 1.0),
	}
	want := Aggregate(append([]Candidate(nil), base...), NewClaims())
	assertOneToOne(t, want)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Candidate(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Aggregate(shuffled, NewClaims()))
	}
}

func TestClaims_CloneIsIndependent(t *testing.T) {
	c := NewClaims()
	c.Claim("l1", "s1")
	clone := c.Clone()
	clone.Claim("l2", "s2")
	clone.Reject("l3", "s3")

	assert.True(t, clone.LedgerClaimed("l1"))
	assert.False(t, c.LedgerClaimed("l2"))
	assert.False(t, c.Rejected("l3", "s3"))
}

func TestEngine_EndToEndScenario(t *testing.T) {
	program, err := rules.Compile([]recon.MatchRule{{
		ID:       "exact-amount-date",
		Priority: 1,
		Enabled:  true,
		Conditions: []recon.Condition{
			{Field: "amount", Operator: "exact"},
			{Field: "date", Operator: "within_days", Value: "0"},
		},
		Actions: recon.Actions{AutoMatch: true},
	}}, rules.Defaults{})
	require.NoError(t, err)

	idx := NewIndex([]recon.LedgerTransaction{
		lt("l-rent", "2024-01-01", "100.00", "Rent"),
		lt("l-coffee", "2024-01-03", "50.00", "Coffee"),
		lt("l-utility", "2024-01-05", "75.00", "Utility"),
	})
	stmts := []recon.StatementTransaction{
		st("s-rent", "2024-01-01", "100.00", "RENT PAYMENT"),
		st("s-coffee", "2024-01-04", "50.00", "STARBUCKS"),
		st("s-electric", "2024-01-06", "80.00", "ELECTRIC"),
	}

	engine := NewEngine(program, defaultScorer(t))
	claims := NewClaims()
	got, err := engine.Resolve(context.Background(), idx, stmts, claims)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byStatement := map[string]Candidate{}
	for _, c := range got {
		byStatement[c.StatementID] = c
	}

	rent := byStatement["s-rent"]
	assert.Equal(t, "l-rent", rent.LedgerID)
	assert.Equal(t, recon.MatchConfirmed, rent.Status)
	assert.Equal(t, 1.0, rent.Confidence)
	assert.Equal(t, recon.RuleSource("exact-amount-date"), rent.Source)

	coffee := byStatement["s-coffee"]
	assert.Equal(t, "l-coffee", coffee.LedgerID)
	assert.Equal(t, recon.MatchSuggested, coffee.Status)
	assert.Equal(t, recon.SourceFuzzy, coffee.Source.Kind)
	assert.GreaterOrEqual(t, coffee.Confidence, 0.6)

	assert.False(t, claims.StatementClaimed("s-electric"))
	assert.False(t, claims.LedgerClaimed("l-utility"))
}

func TestEngine_ResolveFallsBackToNextBest(t *testing.T) {
	p := DefaultParams()
	p.TopK = 1
	scorer, err := NewScorer(p)
	require.NoError(t, err)

	idx := NewIndex([]recon.LedgerTransaction{
		lt("l-best", "2024-01-04", "50.00", "coffee"),
		lt("l-next", "2024-01-05", "50.00", "coffee"),
	})
	stmts := []recon.StatementTransaction{
		st("s-a", "2024-01-04", "50.00", "coffee"),
		st("s-b", "2024-01-04", "50.00", "coffee bar"),
	}

	got, err := NewEngine(nil, scorer).Resolve(context.Background(), idx, stmts, NewClaims())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assertOneToOne(t, got)
	assert.Equal(t, "l-best", got[0].LedgerID)
	assert.Equal(t, "s-a", got[0].StatementID)
	assert.Equal(t, "l-next", got[1].LedgerID)
	assert.Equal(t, "s-b", got[1].StatementID)
}

func TestEngine_ResolveHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := NewIndex([]recon.LedgerTransaction{lt("l", "2024-01-04", "50.00", "coffee")})
	_, err := NewEngine(nil, defaultScorer(t)).Resolve(ctx, idx, []recon.StatementTransaction{st("s", "2024-01-04", "50.00", "coffee")}, NewClaims())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_ResolveAutoOnlyConfirmsRuleMatches(t *testing.T) {
	program, err := rules.Compile([]recon.MatchRule{
		{
			ID: "suggest-coffee", Priority: 1, Seq: 1, Enabled: true,
			Conditions: []recon.Condition{{Field: "description", Operator: "contains", Value: "coffee", CaseInsensitive: true}},
		},
		{
			ID: "exact", Priority: 2, Seq: 2, Enabled: true,
			Conditions: []recon.Condition{{Field: "amount", Operator: "exact"}},
			Actions:    recon.Actions{AutoMatch: true},
		},
	}, rules.Defaults{})
	require.NoError(t, err)
	require.True(t, program.HasAutoMatch())

	idx := NewIndex([]recon.LedgerTransaction{
		lt("l-rent", "2024-01-10", "100.00", "Rent"),
		lt("l-coffee", "2024-01-04", "5.00", "Coffee"),
	})
	stmts := []recon.StatementTransaction{
		st("s-a", "2024-01-10", "99.00", "Rent"),
		st("s-b", "2024-01-10", "100.00", "Rent payment"),
		st("s-coffee", "2024-01-04", "5.00", "COFFEE"),
	}

	claims := NewClaims()
	got, err := NewEngine(program, defaultScorer(t)).ResolveAuto(context.Background(), idx, stmts, claims)
	require.NoError(t, err)
	require.Len(t, got, 1, "fuzzy and suggest-only rule pairings wait for the second phase")
	assert.Equal(t, "s-b", got[0].StatementID)
	assert.Equal(t, "l-rent", got[0].LedgerID)
	assert.Equal(t, recon.MatchConfirmed, got[0].Status)
	assert.True(t, claims.LedgerClaimed("l-rent"))
	assert.False(t, claims.LedgerClaimed("l-coffee"))

	none, err := NewEngine(nil, defaultScorer(t)).ResolveAuto(context.Background(), idx, stmts, NewClaims())
	require.NoError(t, err)
	assert.Empty(t, none)
}
