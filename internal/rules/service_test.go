package rules

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/recon-engine/internal/recon"
)

// MockRuleStore implements Store for testing.
type MockRuleStore struct {
	rules map[string]recon.MatchRule
	seq   int64
}

func newMockRuleStore() *MockRuleStore {
	return &MockRuleStore{rules: map[string]recon.MatchRule{}}
}

func (m *MockRuleStore) InsertRule(ctx context.Context, rule *recon.MatchRule) error {
	m.seq++
	rule.Seq = m.seq
	m.rules[rule.ID] = *rule
	return nil
}

func (m *MockRuleStore) GetRule(ctx context.Context, id string) (*recon.MatchRule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, recon.NewNotFoundError("rule", id)
	}
	return &r, nil
}

func (m *MockRuleStore) ListRules(ctx context.Context, accountID string) ([]recon.MatchRule, error) {
	var out []recon.MatchRule
	for _, r := range m.rules {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *MockRuleStore) UpdateRule(ctx context.Context, rule *recon.MatchRule, expectedVersion int) error {
	cur, ok := m.rules[rule.ID]
	if !ok {
		return recon.NewNotFoundError("rule", rule.ID)
	}
	if cur.Version != expectedVersion {
		return recon.NewConflictError("rule", rule.ID, "stale version")
	}
	m.rules[rule.ID] = *rule
	return nil
}

func (m *MockRuleStore) DeleteRule(ctx context.Context, id string, expectedVersion int) error {
	cur, ok := m.rules[id]
	if !ok {
		return recon.NewNotFoundError("rule", id)
	}
	if cur.Version != expectedVersion {
		return recon.NewConflictError("rule", id, "stale version")
	}
	delete(m.rules, id)
	return nil
}

func exactAmountInput(name string, priority int) recon.RuleInput {
	return recon.RuleInput{
		Name:       name,
		Priority:   priority,
		Conditions: []recon.Condition{cond("amount", "exact", "")},
	}
}

func TestService_CreateAndList(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRuleStore(), Defaults{}, nil)

	b, err := svc.Create(ctx, "acct-1", exactAmountInput("b", 2))
	require.NoError(t, err)
	a1, err := svc.Create(ctx, "acct-1", exactAmountInput("a1", 1))
	require.NoError(t, err)
	a2, err := svc.Create(ctx, "acct-1", exactAmountInput("a2", 1))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "acct-2", exactAmountInput("other", 0))
	require.NoError(t, err)

	assert.Equal(t, 1, b.Version)
	assert.True(t, b.Enabled)

	list, err := svc.List(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{a1.ID, a2.ID, b.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	_, err = svc.List(ctx, "")
	assert.ErrorIs(t, err, recon.ErrValidation)
}

func TestService_CreateRejectsInvalidRule(t *testing.T) {
	svc := NewService(newMockRuleStore(), Defaults{}, nil)

	_, err := svc.Create(context.Background(), "acct-1", recon.RuleInput{Name: "empty"})
	var verr *recon.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "conditions", verr.Field)
}

func TestService_UpdateOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRuleStore(), Defaults{}, nil)

	rule, err := svc.Create(ctx, "acct-1", exactAmountInput("rent", 1))
	require.NoError(t, err)

	name := "rent v2"
	updated, err := svc.Update(ctx, rule.ID, recon.RulePatch{Version: 1, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "rent v2", updated.Name)
	assert.Equal(t, rule.Seq, updated.Seq)

	_, err = svc.Update(ctx, rule.ID, recon.RulePatch{Version: 1, Name: &name})
	assert.ErrorIs(t, err, recon.ErrConflict)

	_, err = svc.Update(ctx, "missing", recon.RulePatch{Version: 1})
	assert.ErrorIs(t, err, recon.ErrNotFound)

	_, err = svc.Update(ctx, rule.ID, recon.RulePatch{})
	assert.ErrorIs(t, err, recon.ErrValidation)

	_, err = svc.Update(ctx, rule.ID, recon.RulePatch{Version: 2, Conditions: []recon.Condition{cond("description", "matches", "(")}})
	assert.ErrorIs(t, err, recon.ErrValidation)
}

func TestService_DeleteAndProgram(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRuleStore(), Defaults{}, nil)

	keep, err := svc.Create(ctx, "acct-1", exactAmountInput("keep", 1))
	require.NoError(t, err)
	drop, err := svc.Create(ctx, "acct-1", exactAmountInput("drop", 0))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, drop.ID, 7), recon.ErrConflict)
	require.NoError(t, svc.Delete(ctx, drop.ID, 1))

	p, err := svc.Program(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	l := ledgerTxn("l", "2024-03-01", "5", "")
	s := statementTxn("s", "2024-03-01", "5", "")
	out, ok := p.Match(&l, &s)
	require.True(t, ok)
	assert.Equal(t, keep.ID, out.RuleID)
}
