package rpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "github.com/example/recon-engine/api/reconcilev1"
	"github.com/example/recon-engine/internal/ledger"
	"github.com/example/recon-engine/internal/matching"
	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/reconcile"
	"github.com/example/recon-engine/internal/rules"
	"github.com/example/recon-engine/internal/security"
	"github.com/example/recon-engine/internal/session"
	"github.com/example/recon-engine/internal/storage"
	"github.com/example/recon-engine/pkg/audit"
)

const account = "acct-1"

type fixture struct {
	client *Client
	conn   *grpc.ClientConn
	ledger *ledger.MemoryLedger
	audit  *audit.ChainLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.Open(context.Background(), storage.DialectSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	scorer, err := matching.NewScorer(matching.DefaultParams())
	require.NoError(t, err)

	mem := ledger.NewMemoryLedger()
	chain := audit.NewChainLogger(nil)
	ruleService := rules.NewService(store, rules.Defaults{}, logger)
	manager := session.NewManager(session.Deps{
		Store:      store,
		Statements: store,
		Ledger:     mem,
		Programs:   ruleService,
		Scorer:     scorer,
		Leaser:     store.Leaser(),
		Auditor:    chain,
	}, session.Config{RetryInitialInterval: time.Millisecond}, logger)
	svc := reconcile.NewService(store, ruleService, manager, chain, logger)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(svc, logger)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{client: client, conn: client.conn, ledger: mem, audit: chain}
}

func day(v string) time.Time {
	t, err := recon.ParseDate(v)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) addLedger(id, date, amount, desc string) {
	f.ledger.Add(recon.LedgerTransaction{ID: id, AccountID: account, Date: day(date), Amount: decimal.RequireFromString(amount), Description: desc})
}

func TestReconciliationOverGRPC(t *testing.T) {
	f := newFixture(t)
	ctx := recon.WithActor(context.Background(), "alice")

	f.addLedger("l-rent", "2024-01-01", "100.00", "Rent")
	f.addLedger("l-coffee", "2024-01-03", "50.00", "Coffee")
	f.addLedger("l-utility", "2024-01-05", "75.00", "Utility")

	rule, err := f.client.CreateRule(ctx, account, recon.RuleInput{
		Name:     "exact amount and date",
		Priority: 1,
		Conditions: []recon.Condition{
			{Field: "amount", Operator: "exact"},
			{Field: "date", Operator: "within_days", Value: "0"},
		},
		Actions: recon.Actions{AutoMatch: true},
	})
	require.NoError(t, err)

	sess, err := f.client.CreateSession(ctx, account, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, recon.StatusPending, sess.Status)

	imported, err := f.client.ImportStatements(ctx, sess.ID, []recon.StatementTransaction{
		{ID: "s-rent", Date: day("2024-01-01"), Amount: decimal.RequireFromString("100.00"), Description: "RENT PAYMENT"},
		{ID: "s-coffee", Date: day("2024-01-04"), Amount: decimal.RequireFromString("50.00"), Description: "STARBUCKS"},
		{ID: "s-electric", Date: day("2024-01-06"), Amount: decimal.RequireFromString("80.00"), Description: "ELECTRIC"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, imported.Imported)

	res, err := f.client.RunMatchingPass(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MatchesCreated)
	assert.Equal(t, []string{"s-electric"}, res.UnresolvedStatementIDs)

	view, err := f.client.GetSession(ctx, sess.ID, recon.Pagination{Status: recon.MatchSuggested})
	require.NoError(t, err)
	require.Len(t, view.Matches, 1)

	m, err := f.client.RejectMatch(ctx, view.Matches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, recon.MatchRejected, m.Status)
	assert.Equal(t, "alice", m.ResolvedBy, "the actor travels in metadata")

	_, err = f.client.ConfirmMatch(ctx, m.ID)
	assert.ErrorIs(t, err, recon.ErrConflict)

	list, err := f.client.ListSessions(ctx, account, recon.Pagination{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ruleList, err := f.client.ListRules(ctx, account)
	require.NoError(t, err)
	require.Len(t, ruleList, 1)
	assert.Equal(t, rule.ID, ruleList[0].ID)

	got, err := f.client.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Conditions, got.Conditions)

	disabled := false
	updated, err := f.client.UpdateRule(ctx, rule.ID, recon.RulePatch{Version: 1, Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 2, updated.Version)

	require.ErrorIs(t, f.client.DeleteRule(ctx, rule.ID, 1), recon.ErrConflict)
	require.NoError(t, f.client.DeleteRule(ctx, rule.ID, 2))

	stopped, err := f.client.StopPass(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, stopped.StopRequested)

	cancelled, err := f.client.CancelSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, recon.StatusCancelled, cancelled.Status)

	var actors []string
	for _, e := range f.audit.Events() {
		actors = append(actors, e.Actor)
	}
	assert.NotEmpty(t, actors)
	for _, a := range actors {
		assert.Equal(t, "alice", a)
	}
}

func TestErrorCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := pb.NewReconciliationClient(f.conn)

	_, err := raw.CreateSession(ctx, &pb.CreateSessionRequest{AccountID: account, PeriodStart: "2024-01-01", PeriodEnd: "nope"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = raw.GetSession(ctx, &pb.GetSessionRequest{SessionID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = raw.ConfirmMatch(ctx, &pb.MatchIDRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	sess, err := f.client.CreateSession(ctx, account, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	_, err = raw.StopPass(ctx, &pb.SessionIDRequest{SessionID: sess.ID})
	assert.Equal(t, codes.Aborted, status.Code(err), "pending sessions have no pass to stop")

	// Typed errors survive the round trip.
	_, err = f.client.GetSession(ctx, "missing", recon.Pagination{})
	assert.ErrorIs(t, err, recon.ErrNotFound)
	assert.Contains(t, err.Error(), "missing")

	_, err = f.client.ListRules(ctx, "")
	assert.ErrorIs(t, err, recon.ErrValidation)
}

func TestIdentityMetadata(t *testing.T) {
	f := newFixture(t)
	raw := pb.NewReconciliationClient(f.conn)

	ctx := metadata.AppendToOutgoingContext(context.Background(), CorrelationIDKey, "cid-42")
	var header metadata.MD
	_, err := raw.ListRules(ctx, &pb.ListRulesRequest{AccountID: account}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, []string{"cid-42"}, header.Get(CorrelationIDKey))

	ctx = metadata.AppendToOutgoingContext(context.Background(), ActorKey, "two words")
	_, err = raw.ListRules(ctx, &pb.ListRulesRequest{AccountID: account})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// The client forwards the correlation id from its context.
	ctx = security.WithCorrelationID(context.Background(), "cid-7")
	header = nil
	_, err = f.client.rpc.ListRules(ctx, &pb.ListRulesRequest{AccountID: account}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, []string{"cid-7"}, header.Get(CorrelationIDKey))
}

func TestUnimplementedServer(t *testing.T) {
	var s pb.UnimplementedReconciliationServer
	_, err := s.RunMatchingPass(context.Background(), &pb.SessionIDRequest{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
