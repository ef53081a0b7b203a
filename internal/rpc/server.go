// Package rpc serves and consumes the reconcile.v1.Reconciliation gRPC
// service.
package rpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"

	pb "github.com/example/recon-engine/api/reconcilev1"
	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/reconcile"
)

// Server adapts reconcile.Operations to the gRPC contract.
type Server struct {
	pb.UnimplementedReconciliationServer
	ops reconcile.Operations
}

// NewServer builds a gRPC server with the reconciliation service and its
// interceptors registered. opts are appended, e.g. grpc.Creds.
func NewServer(ops reconcile.Operations, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(4 << 20),
		grpc.ChainUnaryInterceptor(
			identityInterceptor,
			loggingInterceptor(logger),
			errorInterceptor(logger),
		),
	}, opts...)

	s := grpc.NewServer(opts...)
	pb.RegisterReconciliationServer(s, &Server{ops: ops})
	return s
}

func (s *Server) CreateSession(ctx context.Context, in *pb.CreateSessionRequest) (*pb.SessionReply, error) {
	start, err := recon.ParseDate(in.PeriodStart)
	if err != nil {
		return nil, recon.NewValidationError("period_start", "not a calendar date")
	}
	end, err := recon.ParseDate(in.PeriodEnd)
	if err != nil {
		return nil, recon.NewValidationError("period_end", "not a calendar date")
	}
	sess, err := s.ops.CreateSession(ctx, in.AccountID, start, end)
	if err != nil {
		return nil, err
	}
	return &pb.SessionReply{Session: sess}, nil
}

func (s *Server) GetSession(ctx context.Context, in *pb.GetSessionRequest) (*pb.SessionViewReply, error) {
	view, err := s.ops.GetSession(ctx, in.SessionID, recon.Pagination{
		Limit:  in.Limit,
		Offset: in.Offset,
		Status: recon.MatchStatus(in.Status),
	})
	if err != nil {
		return nil, err
	}
	return &pb.SessionViewReply{View: view}, nil
}

func (s *Server) ListSessions(ctx context.Context, in *pb.ListSessionsRequest) (*pb.ListSessionsReply, error) {
	list, err := s.ops.ListSessions(ctx, in.AccountID, recon.Pagination{Limit: in.Limit, Offset: in.Offset})
	if err != nil {
		return nil, err
	}
	return &pb.ListSessionsReply{Sessions: list}, nil
}

func (s *Server) ImportStatements(ctx context.Context, in *pb.ImportStatementsRequest) (*pb.ImportStatementsReply, error) {
	res, err := s.ops.ImportStatements(ctx, in.SessionID, in.Statements)
	if err != nil {
		return nil, err
	}
	return &pb.ImportStatementsReply{Result: res}, nil
}

func (s *Server) RunMatchingPass(ctx context.Context, in *pb.SessionIDRequest) (*pb.PassReply, error) {
	res, err := s.ops.RunMatchingPass(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	return &pb.PassReply{Result: res}, nil
}

func (s *Server) StopPass(ctx context.Context, in *pb.SessionIDRequest) (*pb.SessionReply, error) {
	sess, err := s.ops.StopPass(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	return &pb.SessionReply{Session: sess}, nil
}

func (s *Server) CancelSession(ctx context.Context, in *pb.SessionIDRequest) (*pb.SessionReply, error) {
	sess, err := s.ops.CancelSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	return &pb.SessionReply{Session: sess}, nil
}

func (s *Server) ConfirmMatch(ctx context.Context, in *pb.MatchIDRequest) (*pb.MatchReply, error) {
	m, err := s.ops.ConfirmMatch(ctx, in.MatchID)
	if err != nil {
		return nil, err
	}
	return &pb.MatchReply{Match: m}, nil
}

func (s *Server) RejectMatch(ctx context.Context, in *pb.MatchIDRequest) (*pb.MatchReply, error) {
	m, err := s.ops.RejectMatch(ctx, in.MatchID)
	if err != nil {
		return nil, err
	}
	return &pb.MatchReply{Match: m}, nil
}

func (s *Server) ListRules(ctx context.Context, in *pb.ListRulesRequest) (*pb.ListRulesReply, error) {
	list, err := s.ops.ListRules(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	return &pb.ListRulesReply{Rules: list}, nil
}

func (s *Server) GetRule(ctx context.Context, in *pb.RuleIDRequest) (*pb.RuleReply, error) {
	rule, err := s.ops.GetRule(ctx, in.RuleID)
	if err != nil {
		return nil, err
	}
	return &pb.RuleReply{Rule: rule}, nil
}

func (s *Server) CreateRule(ctx context.Context, in *pb.CreateRuleRequest) (*pb.RuleReply, error) {
	rule, err := s.ops.CreateRule(ctx, in.AccountID, in.Rule)
	if err != nil {
		return nil, err
	}
	return &pb.RuleReply{Rule: rule}, nil
}

func (s *Server) UpdateRule(ctx context.Context, in *pb.UpdateRuleRequest) (*pb.RuleReply, error) {
	rule, err := s.ops.UpdateRule(ctx, in.RuleID, in.Patch)
	if err != nil {
		return nil, err
	}
	return &pb.RuleReply{Rule: rule}, nil
}

func (s *Server) DeleteRule(ctx context.Context, in *pb.DeleteRuleRequest) (*pb.Empty, error) {
	if err := s.ops.DeleteRule(ctx, in.RuleID, in.Version); err != nil {
		return nil, err
	}
	return &pb.Empty{}, nil
}
