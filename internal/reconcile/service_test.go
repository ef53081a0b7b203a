package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/example/recon-engine/internal/ledger"
	"github.com/example/recon-engine/internal/matching"
	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/rules"
	"github.com/example/recon-engine/internal/session"
	"github.com/example/recon-engine/internal/storage"
	"github.com/example/recon-engine/pkg/audit"
)

const account = "acct-1"

type ServiceSuite struct {
	suite.Suite
	ctx    context.Context
	store  *storage.Store
	ledger *ledger.MemoryLedger
	audit  *audit.ChainLogger
	svc    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = recon.WithActor(context.Background(), "reviewer")

	store, err := storage.Open(context.Background(), storage.DialectSQLite, ":memory:")
	s.Require().NoError(err)
	s.Require().NoError(store.Migrate())
	s.store = store

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	scorer, err := matching.NewScorer(matching.DefaultParams())
	s.Require().NoError(err)

	s.ledger = ledger.NewMemoryLedger()
	s.audit = audit.NewChainLogger(nil)
	ruleService := rules.NewService(store, rules.Defaults{}, logger)
	manager := session.NewManager(session.Deps{
		Store:      store,
		Statements: store,
		Ledger:     s.ledger,
		Programs:   ruleService,
		Scorer:     scorer,
		Leaser:     store.Leaser(),
		Auditor:    s.audit,
	}, session.Config{RetryInitialInterval: time.Millisecond}, logger)
	s.svc = NewService(store, ruleService, manager, s.audit, logger)
}

func (s *ServiceSuite) TearDownTest() {
	_ = s.store.Close()
}

func day(v string) time.Time {
	t, err := recon.ParseDate(v)
	if err != nil {
		panic(err)
	}
	return t
}

func stmt(id, date, amount, desc string) recon.StatementTransaction {
	return recon.StatementTransaction{ID: id, Date: day(date), Amount: decimal.RequireFromString(amount), Description: desc}
}

func (s *ServiceSuite) newSession() *recon.Session {
	sess, err := s.svc.CreateSession(s.ctx, account, day("2024-01-01"), day("2024-01-31"))
	s.Require().NoError(err)
	return sess
}

func (s *ServiceSuite) TestCreateSession() {
	sess := s.newSession()
	s.Equal(recon.StatusPending, sess.Status)
	s.Equal(account, sess.AccountID)
	s.NotEmpty(sess.ID)

	_, err := s.svc.CreateSession(s.ctx, " ", day("2024-01-01"), day("2024-01-31"))
	s.ErrorIs(err, recon.ErrValidation)

	_, err = s.svc.CreateSession(s.ctx, account, day("2024-02-01"), day("2024-01-31"))
	s.ErrorIs(err, recon.ErrValidation)

	_, err = s.svc.CreateSession(s.ctx, account, time.Time{}, day("2024-01-31"))
	s.ErrorIs(err, recon.ErrValidation)

	// A single-day period is allowed.
	_, err = s.svc.CreateSession(s.ctx, account, day("2024-01-31"), day("2024-01-31"))
	s.NoError(err)
}

func (s *ServiceSuite) TestListSessions() {
	first := s.newSession()
	second := s.newSession()
	_, err := s.svc.CreateSession(s.ctx, "acct-2", day("2024-01-01"), day("2024-01-31"))
	s.Require().NoError(err)

	list, err := s.svc.ListSessions(s.ctx, account, recon.Pagination{})
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	ids := []string{list[0].ID, list[1].ID}
	s.ElementsMatch([]string{first.ID, second.ID}, ids)

	list, err = s.svc.ListSessions(s.ctx, "nobody", recon.Pagination{})
	s.Require().NoError(err)
	s.NotNil(list)
	s.Empty(list)

	_, err = s.svc.ListSessions(s.ctx, "", recon.Pagination{})
	s.ErrorIs(err, recon.ErrValidation)
}

func (s *ServiceSuite) TestImportStatements() {
	sess := s.newSession()

	foreign := stmt("s-foreign", "2024-01-02", "5.00", "elsewhere")
	foreign.AccountID = "acct-2"
	undated := stmt("s-undated", "2024-01-02", "5.00", "no date")
	undated.Date = time.Time{}
	anonymous := stmt("", "2024-01-03", "7.50", "CARD PAYMENT")

	res, err := s.svc.ImportStatements(s.ctx, sess.ID, []recon.StatementTransaction{
		stmt("s1", "2024-01-02", "10.00", "one"),
		anonymous,
		foreign,
		undated,
	})
	s.Require().NoError(err)
	s.Equal(2, res.Imported)
	s.Equal(0, res.Duplicates)
	s.Require().Len(res.Skipped, 2)
	s.Equal("s-foreign", res.Skipped[0].RecordID)
	s.Equal(recon.FailureSkippedRecord, res.Skipped[0].Kind)
	s.Equal("s-undated", res.Skipped[1].RecordID)

	// Re-importing the same lines, including the one without an id, is a no-op.
	res, err = s.svc.ImportStatements(s.ctx, sess.ID, []recon.StatementTransaction{
		stmt("s1", "2024-01-02", "10.00", "one"),
		anonymous,
	})
	s.Require().NoError(err)
	s.Equal(0, res.Imported)
	s.Equal(2, res.Duplicates)

	n, err := s.store.CountStatements(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(2, n)

	page, err := s.store.ListStatementTransactions(s.ctx, sess.ID, recon.Page{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(page.Transactions, 2)
	s.Equal("s1", page.Transactions[0].ID)
	expected := anonymous
	expected.AccountID = account
	s.Equal(expected.DerivedID(), page.Transactions[1].ID)
	s.Equal(account, page.Transactions[1].AccountID)
}

func (s *ServiceSuite) TestImportIntoCancelledSession() {
	sess := s.newSession()
	_, err := s.svc.CancelSession(s.ctx, sess.ID)
	s.Require().NoError(err)

	_, err = s.svc.ImportStatements(s.ctx, sess.ID, []recon.StatementTransaction{stmt("s1", "2024-01-02", "1.00", "x")})
	s.ErrorIs(err, recon.ErrConflict)

	_, err = s.svc.ImportStatements(s.ctx, "missing", nil)
	s.ErrorIs(err, recon.ErrNotFound)
}

func (s *ServiceSuite) TestReconciliationFlow() {
	rule, err := s.svc.CreateRule(s.ctx, account, recon.RuleInput{
		Name:     "exact amount and date",
		Priority: 1,
		Conditions: []recon.Condition{
			{Field: "amount", Operator: "exact"},
			{Field: "date", Operator: "within_days", Value: "0"},
		},
		Actions: recon.Actions{AutoMatch: true},
	})
	s.Require().NoError(err)

	s.ledger.Add(
		recon.LedgerTransaction{ID: "l-rent", AccountID: account, Date: day("2024-01-01"), Amount: decimal.RequireFromString("100.00"), Description: "Rent"},
		recon.LedgerTransaction{ID: "l-coffee", AccountID: account, Date: day("2024-01-03"), Amount: decimal.RequireFromString("50.00"), Description: "Coffee"},
		recon.LedgerTransaction{ID: "l-utility", AccountID: account, Date: day("2024-01-05"), Amount: decimal.RequireFromString("75.00"), Description: "Utility"},
	)
	sess := s.newSession()
	_, err = s.svc.ImportStatements(s.ctx, sess.ID, []recon.StatementTransaction{
		stmt("s-rent", "2024-01-01", "100.00", "RENT PAYMENT"),
		stmt("s-coffee", "2024-01-04", "50.00", "STARBUCKS"),
		stmt("s-electric", "2024-01-06", "80.00", "ELECTRIC"),
	})
	s.Require().NoError(err)

	res, err := s.svc.RunMatchingPass(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(2, res.MatchesCreated)
	s.Equal(2, res.UnresolvedCount)

	view, err := s.svc.GetSession(s.ctx, sess.ID, recon.Pagination{Status: recon.MatchSuggested})
	s.Require().NoError(err)
	s.Equal(recon.StatusInProgress, view.Session.Status)
	s.Require().Equal(1, view.TotalMatches)
	coffee := view.Matches[0]
	s.Equal("s-coffee", coffee.StatementTxnID)

	view, err = s.svc.GetSession(s.ctx, sess.ID, recon.Pagination{Status: recon.MatchConfirmed})
	s.Require().NoError(err)
	s.Require().Len(view.Matches, 1)
	s.Equal(recon.RuleSource(rule.ID), view.Matches[0].Source)

	confirmed, err := s.svc.ConfirmMatch(s.ctx, coffee.ID)
	s.Require().NoError(err)
	s.Equal("reviewer", confirmed.ResolvedBy)

	// Electric is still unmatched, so the session cannot complete.
	res, err = s.svc.RunMatchingPass(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(recon.StatusInProgress, res.Status)
	s.Equal([]string{"s-electric"}, res.UnresolvedStatementIDs)

	view, err = s.svc.GetSession(s.ctx, sess.ID, recon.Pagination{Limit: 1})
	s.Require().NoError(err)
	s.Equal(2, view.TotalMatches)
	s.Len(view.Matches, 1)
	s.Equal(1, view.Pagination.Limit)

	actions := []string{}
	for _, e := range s.audit.Events() {
		actions = append(actions, e.Action)
	}
	s.Equal([]string{"rule.created", "match.confirmed"}, actions)
}

func (s *ServiceSuite) TestGetSessionErrors() {
	_, err := s.svc.GetSession(s.ctx, "missing", recon.Pagination{})
	s.ErrorIs(err, recon.ErrNotFound)

	_, err = s.svc.GetSession(s.ctx, "", recon.Pagination{})
	s.ErrorIs(err, recon.ErrValidation)

	sess := s.newSession()
	_, err = s.svc.GetSession(s.ctx, sess.ID, recon.Pagination{Status: "maybe"})
	s.ErrorIs(err, recon.ErrValidation)

	view, err := s.svc.GetSession(s.ctx, sess.ID, recon.Pagination{})
	s.Require().NoError(err)
	s.NotNil(view.Matches)
	s.Equal(100, view.Pagination.Limit)
}

func (s *ServiceSuite) TestMatchOperationsValidateIDs() {
	_, err := s.svc.ConfirmMatch(s.ctx, "")
	s.ErrorIs(err, recon.ErrValidation)
	_, err = s.svc.RejectMatch(s.ctx, "")
	s.ErrorIs(err, recon.ErrValidation)
	_, err = s.svc.RejectMatch(s.ctx, "missing")
	s.ErrorIs(err, recon.ErrNotFound)
	_, err = s.svc.RunMatchingPass(s.ctx, "")
	s.ErrorIs(err, recon.ErrValidation)
}

func (s *ServiceSuite) TestStopAndCancel() {
	sess := s.newSession()

	_, err := s.svc.StopPass(s.ctx, sess.ID)
	s.ErrorIs(err, recon.ErrConflict)

	cancelled, err := s.svc.CancelSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(recon.StatusCancelled, cancelled.Status)

	_, err = s.svc.RunMatchingPass(s.ctx, sess.ID)
	s.ErrorIs(err, recon.ErrConflict)
}

func (s *ServiceSuite) TestRuleLifecycle() {
	in := recon.RuleInput{
		Name:       "card payments",
		Priority:   5,
		Conditions: []recon.Condition{{Field: "description", Operator: "contains", Value: "card", CaseInsensitive: true}},
	}
	created, err := s.svc.CreateRule(s.ctx, account, in)
	s.Require().NoError(err)
	s.Equal(1, created.Version)
	s.True(created.Enabled)

	_, err = s.svc.CreateRule(s.ctx, account, recon.RuleInput{Name: "empty"})
	s.ErrorIs(err, recon.ErrValidation)

	got, err := s.svc.GetRule(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.Name, got.Name)

	name := "card payments v2"
	updated, err := s.svc.UpdateRule(s.ctx, created.ID, recon.RulePatch{Version: 1, Name: &name})
	s.Require().NoError(err)
	s.Equal(2, updated.Version)
	s.Equal(name, updated.Name)

	_, err = s.svc.UpdateRule(s.ctx, created.ID, recon.RulePatch{Version: 1, Name: &name})
	s.ErrorIs(err, recon.ErrConflict)

	list, err := s.svc.ListRules(s.ctx, account)
	s.Require().NoError(err)
	s.Len(list, 1)

	s.ErrorIs(s.svc.DeleteRule(s.ctx, created.ID, 1), recon.ErrConflict)
	s.Require().NoError(s.svc.DeleteRule(s.ctx, created.ID, 2))
	_, err = s.svc.GetRule(s.ctx, created.ID)
	s.ErrorIs(err, recon.ErrNotFound)

	list, err = s.svc.ListRules(s.ctx, account)
	s.Require().NoError(err)
	s.NotNil(list)
	s.Empty(list)

	events := s.audit.Events()
	s.Require().Len(events, 3)
	s.Equal("rule.deleted", events[2].Action)
	s.Equal("reviewer", events[2].Actor)
	s.True(audit.VerifyChain(s.audit.Entries()))
}

func TestNewServiceDefaultsLogger(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil)
	require.NotNil(t, svc.logger)
	assert.Nil(t, svc.auditor)
}
