package reconcile

import (
	"context"
	"time"

	"github.com/example/recon-engine/internal/recon"
)

// Operations is the reconciliation surface shared by the HTTP and gRPC
// servers and the gRPC client.
type Operations interface {
	CreateSession(ctx context.Context, accountID string, periodStart, periodEnd time.Time) (*recon.Session, error)
	GetSession(ctx context.Context, sessionID string, p recon.Pagination) (*recon.SessionView, error)
	ListSessions(ctx context.Context, accountID string, p recon.Pagination) ([]recon.Session, error)
	ImportStatements(ctx context.Context, sessionID string, txns []recon.StatementTransaction) (*recon.ImportResult, error)
	RunMatchingPass(ctx context.Context, sessionID string) (*recon.PassResult, error)
	StopPass(ctx context.Context, sessionID string) (*recon.Session, error)
	CancelSession(ctx context.Context, sessionID string) (*recon.Session, error)
	ConfirmMatch(ctx context.Context, matchID string) (*recon.Match, error)
	RejectMatch(ctx context.Context, matchID string) (*recon.Match, error)

	ListRules(ctx context.Context, accountID string) ([]recon.MatchRule, error)
	GetRule(ctx context.Context, ruleID string) (*recon.MatchRule, error)
	CreateRule(ctx context.Context, accountID string, in recon.RuleInput) (*recon.MatchRule, error)
	UpdateRule(ctx context.Context, ruleID string, patch recon.RulePatch) (*recon.MatchRule, error)
	DeleteRule(ctx context.Context, ruleID string, version int) error
}

var _ Operations = (*Service)(nil)
