package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/example/recon-engine/api/reconcilev1"
	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/reconcile"
)

// Client implements reconcile.Operations against a remote recond.
type Client struct {
	conn *grpc.ClientConn
	rpc  *pb.ReconciliationClient
}

var _ reconcile.Operations = (*Client)(nil)

// Dial connects to target. A nil tlsCfg uses a plaintext connection.
func Dial(target string, tlsCfg *tls.Config, opts ...grpc.DialOption) (*Client, error) {
	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(outgoingIdentity),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}
	return &Client{conn: conn, rpc: pb.NewReconciliationClient(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) CreateSession(ctx context.Context, accountID string, periodStart, periodEnd time.Time) (*recon.Session, error) {
	out, err := c.rpc.CreateSession(ctx, &pb.CreateSessionRequest{
		AccountID:   accountID,
		PeriodStart: periodStart.Format(recon.DateLayout),
		PeriodEnd:   periodEnd.Format(recon.DateLayout),
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Session, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string, p recon.Pagination) (*recon.SessionView, error) {
	out, err := c.rpc.GetSession(ctx, &pb.GetSessionRequest{
		SessionID: sessionID,
		Limit:     p.Limit,
		Offset:    p.Offset,
		Status:    string(p.Status),
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.View, nil
}

func (c *Client) ListSessions(ctx context.Context, accountID string, p recon.Pagination) ([]recon.Session, error) {
	out, err := c.rpc.ListSessions(ctx, &pb.ListSessionsRequest{AccountID: accountID, Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Sessions, nil
}

func (c *Client) ImportStatements(ctx context.Context, sessionID string, txns []recon.StatementTransaction) (*recon.ImportResult, error) {
	out, err := c.rpc.ImportStatements(ctx, &pb.ImportStatementsRequest{SessionID: sessionID, Statements: txns})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Result, nil
}

func (c *Client) RunMatchingPass(ctx context.Context, sessionID string) (*recon.PassResult, error) {
	out, err := c.rpc.RunMatchingPass(ctx, &pb.SessionIDRequest{SessionID: sessionID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Result, nil
}

func (c *Client) StopPass(ctx context.Context, sessionID string) (*recon.Session, error) {
	out, err := c.rpc.StopPass(ctx, &pb.SessionIDRequest{SessionID: sessionID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Session, nil
}

func (c *Client) CancelSession(ctx context.Context, sessionID string) (*recon.Session, error) {
	out, err := c.rpc.CancelSession(ctx, &pb.SessionIDRequest{SessionID: sessionID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Session, nil
}

func (c *Client) ConfirmMatch(ctx context.Context, matchID string) (*recon.Match, error) {
	out, err := c.rpc.ConfirmMatch(ctx, &pb.MatchIDRequest{MatchID: matchID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Match, nil
}

func (c *Client) RejectMatch(ctx context.Context, matchID string) (*recon.Match, error) {
	out, err := c.rpc.RejectMatch(ctx, &pb.MatchIDRequest{MatchID: matchID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Match, nil
}

func (c *Client) ListRules(ctx context.Context, accountID string) ([]recon.MatchRule, error) {
	out, err := c.rpc.ListRules(ctx, &pb.ListRulesRequest{AccountID: accountID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Rules, nil
}

func (c *Client) GetRule(ctx context.Context, ruleID string) (*recon.MatchRule, error) {
	out, err := c.rpc.GetRule(ctx, &pb.RuleIDRequest{RuleID: ruleID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Rule, nil
}

func (c *Client) CreateRule(ctx context.Context, accountID string, in recon.RuleInput) (*recon.MatchRule, error) {
	out, err := c.rpc.CreateRule(ctx, &pb.CreateRuleRequest{AccountID: accountID, Rule: in})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Rule, nil
}

func (c *Client) UpdateRule(ctx context.Context, ruleID string, patch recon.RulePatch) (*recon.MatchRule, error) {
	out, err := c.rpc.UpdateRule(ctx, &pb.UpdateRuleRequest{RuleID: ruleID, Patch: patch})
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.Rule, nil
}

func (c *Client) DeleteRule(ctx context.Context, ruleID string, version int) error {
	if _, err := c.rpc.DeleteRule(ctx, &pb.DeleteRuleRequest{RuleID: ruleID, Version: version}); err != nil {
		return fromStatus(err)
	}
	return nil
}
