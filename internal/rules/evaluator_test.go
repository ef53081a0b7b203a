package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/recon-engine/internal/recon"
)

func day(s string) time.Time {
	t, err := recon.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func ledgerTxn(id, date, amount, desc string) recon.LedgerTransaction {
	return recon.LedgerTransaction{ID: id, AccountID: "acct-1", Date: day(date), Amount: decimal.RequireFromString(amount), Description: desc}
}

func statementTxn(id, date, amount, desc string) recon.StatementTransaction {
	return recon.StatementTransaction{ID: id, AccountID: "acct-1", Date: day(date), Amount: decimal.RequireFromString(amount), Description: desc}
}

func cond(field, op, value string) recon.Condition {
	return recon.Condition{Field: field, Operator: op, Value: value}
}

func TestEvaluate_ConditionKinds(t *testing.T) {
	l := ledgerTxn("l1", "2024-03-01", "-1500.00", "Rent")
	s := statementTxn("s1", "2024-03-02", "-1500.00", "RENT MARCH Café Lumière")

	tests := []struct {
		name string
		c    recon.Condition
		want bool
	}{
		{"exact amount", cond("amount", "exact", ""), true},
		{"exact amount with tolerance", cond("amount", "exact", "0.01"), true},
		{"date within one day", cond("date", "within_days", "1"), true},
		{"date same day", cond("date", "within_days", "0"), false},
		{"contains case sensitive", cond("description", "contains", "RENT"), true},
		{"contains case sensitive miss", cond("description", "contains", "rent"), false},
		{"contains case insensitive", recon.Condition{Field: "description", Operator: "contains", Value: "cafe lumiere", CaseInsensitive: true}, true},
		{"matches regex", cond("description", "matches", `^RENT\s+\w+`), true},
		{"matches regex case insensitive", recon.Condition{Field: "description", Operator: "matches", Value: "^rent", CaseInsensitive: true}, true},
		{"matches regex miss", cond("description", "matches", "^UTIL"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := recon.MatchRule{ID: "r", Enabled: true, Conditions: []recon.Condition{tt.c}}
			assert.Equal(t, tt.want, Evaluate(rule, l, s))
		})
	}
}

func TestEvaluate_AmountTolerance(t *testing.T) {
	l := ledgerTxn("l1", "2024-03-01", "100.00", "x")

	pct := recon.Condition{Field: "amount", Operator: "tolerance", Value: "2", Mode: recon.ModePercent}
	abs := recon.Condition{Field: "amount", Operator: "tolerance", Value: "0.50", Mode: recon.ModeAbsolute}

	assert.True(t, Evaluate(recon.MatchRule{Conditions: []recon.Condition{pct}}, l, statementTxn("s", "2024-03-01", "101.99", "")))
	assert.False(t, Evaluate(recon.MatchRule{Conditions: []recon.Condition{pct}}, l, statementTxn("s", "2024-03-01", "102.01", "")))
	assert.True(t, Evaluate(recon.MatchRule{Conditions: []recon.Condition{abs}}, l, statementTxn("s", "2024-03-01", "99.50", "")))
	assert.False(t, Evaluate(recon.MatchRule{Conditions: []recon.Condition{abs}}, l, statementTxn("s", "2024-03-01", "99.49", "")))
}

func TestEvaluate_ConditionsAreConjunctive(t *testing.T) {
	l := ledgerTxn("l1", "2024-03-01", "-1500.00", "Rent")
	rule := recon.MatchRule{Conditions: []recon.Condition{
		cond("amount", "exact", ""),
		cond("date", "within_days", "0"),
	}}

	assert.True(t, Evaluate(rule, l, statementTxn("s", "2024-03-01", "-1500.00", "")))
	assert.False(t, Evaluate(rule, l, statementTxn("s", "2024-03-03", "-1500.00", "")))
	assert.False(t, Evaluate(rule, l, statementTxn("s", "2024-03-01", "-1499.00", "")))
}

func TestEvaluate_InvalidRuleNeverHolds(t *testing.T) {
	l := ledgerTxn("l1", "2024-03-01", "1", "a")
	s := statementTxn("s1", "2024-03-01", "1", "a")

	assert.False(t, Evaluate(recon.MatchRule{Conditions: []recon.Condition{cond("description", "matches", "(")}}, l, s))
	assert.False(t, Evaluate(recon.MatchRule{}, l, s))
}

func TestProgram_PrecedenceByPriorityThenInsertion(t *testing.T) {
	override := 0.7
	rules := []recon.MatchRule{
		{ID: "late", Priority: 5, Seq: 1, Enabled: true, Conditions: []recon.Condition{cond("amount", "exact", "")}, Actions: recon.Actions{AutoMatch: true}},
		{ID: "second", Priority: 1, Seq: 3, Enabled: true, Conditions: []recon.Condition{cond("amount", "exact", "")}},
		{ID: "first", Priority: 1, Seq: 2, Enabled: true, Conditions: []recon.Condition{cond("amount", "exact", "")}, Actions: recon.Actions{ConfidenceOverride: &override}},
		{ID: "disabled", Priority: 0, Seq: 0, Enabled: false, Conditions: []recon.Condition{cond("amount", "exact", "")}},
	}

	p, err := Compile(rules, Defaults{})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())

	l := ledgerTxn("l1", "2024-03-01", "10", "")
	s := statementTxn("s1", "2024-03-01", "10", "")

	out, ok := p.Match(&l, &s)
	require.True(t, ok)
	assert.Equal(t, "first", out.RuleID)
	assert.False(t, out.AutoMatch)
	assert.InDelta(t, 0.7, out.Confidence, 1e-9)

	_, ok = p.Match(&l, &recon.StatementTransaction{ID: "s2", Date: day("2024-03-01"), Amount: decimal.NewFromInt(11)})
	assert.False(t, ok)
}

func TestProgram_AutoMatchDefaultsToFullConfidence(t *testing.T) {
	p, err := Compile([]recon.MatchRule{{
		ID: "r", Enabled: true,
		Conditions: []recon.Condition{cond("amount", "exact", "")},
		Actions:    recon.Actions{AutoMatch: true},
	}}, Defaults{})
	require.NoError(t, err)

	l := ledgerTxn("l1", "2024-03-01", "10", "")
	s := statementTxn("s1", "2024-03-09", "10", "")
	out, ok := p.Match(&l, &s)
	require.True(t, ok)
	assert.True(t, out.AutoMatch)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestProgram_DefaultExactTolerance(t *testing.T) {
	p, err := Compile([]recon.MatchRule{{
		ID: "r", Enabled: true,
		Conditions: []recon.Condition{cond("amount", "exact", "")},
	}}, Defaults{AmountExactTolerance: decimal.RequireFromString("0.05")})
	require.NoError(t, err)

	l := ledgerTxn("l1", "2024-03-01", "10.00", "")
	s := statementTxn("s1", "2024-03-01", "10.04", "")
	_, ok := p.Match(&l, &s)
	assert.True(t, ok)
}

func TestValidate(t *testing.T) {
	good := recon.MatchRule{AccountID: "a", Name: "n", Conditions: []recon.Condition{cond("amount", "exact", "")}}
	require.NoError(t, Validate(good))

	bad := func(mut func(r *recon.MatchRule)) error {
		r := good
		r.Conditions = append([]recon.Condition(nil), good.Conditions...)
		mut(&r)
		return Validate(r)
	}

	negative := good
	negative.Priority = -1
	require.NoError(t, Validate(negative), "any integer priority is accepted")

	tooHigh := 1.5
	cases := map[string]func(r *recon.MatchRule){
		"missing account": func(r *recon.MatchRule) { r.AccountID = "" },
		"missing name":    func(r *recon.MatchRule) { r.Name = " " },
		"no conditions":   func(r *recon.MatchRule) { r.Conditions = nil },
		"unknown kind":    func(r *recon.MatchRule) { r.Conditions[0] = cond("amount", "between", "1") },
		"bad decimal":     func(r *recon.MatchRule) { r.Conditions[0] = cond("amount", "exact", "ten") },
		"bad days":        func(r *recon.MatchRule) { r.Conditions[0] = cond("date", "within_days", "-1") },
		"bad regex":       func(r *recon.MatchRule) { r.Conditions[0] = cond("description", "matches", "[") },
		"bad mode":        func(r *recon.MatchRule) { r.Conditions[0] = recon.Condition{Field: "amount", Operator: "tolerance", Value: "1", Mode: "ratio"} },
		"override range":  func(r *recon.MatchRule) { r.Actions.ConfidenceOverride = &tooHigh },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			err := bad(mut)
			require.Error(t, err)
			assert.ErrorIs(t, err, recon.ErrValidation)
		})
	}
}

func TestProgram_NegativePriorityEvaluatedFirst(t *testing.T) {
	p, err := Compile([]recon.MatchRule{
		{ID: "zero", Priority: 0, Seq: 1, Enabled: true, Conditions: []recon.Condition{cond("amount", "exact", "")}},
		{ID: "negative", Priority: -5, Seq: 2, Enabled: true, Conditions: []recon.Condition{cond("amount", "exact", "")}},
	}, Defaults{})
	require.NoError(t, err)

	l := ledgerTxn("l1", "2024-03-01", "10.00", "")
	s := statementTxn("s1", "2024-03-01", "10.00", "")
	out, ok := p.Match(&l, &s)
	require.True(t, ok)
	assert.Equal(t, "negative", out.RuleID)
	assert.Equal(t, -5, out.Priority)
}
