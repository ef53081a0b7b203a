package reconcilev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "reconcile.v1.Reconciliation"

// FullMethod returns the gRPC method path of name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type ReconciliationServer interface {
	CreateSession(context.Context, *CreateSessionRequest) (*SessionReply, error)
	GetSession(context.Context, *GetSessionRequest) (*SessionViewReply, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsReply, error)
	ImportStatements(context.Context, *ImportStatementsRequest) (*ImportStatementsReply, error)
	RunMatchingPass(context.Context, *SessionIDRequest) (*PassReply, error)
	StopPass(context.Context, *SessionIDRequest) (*SessionReply, error)
	CancelSession(context.Context, *SessionIDRequest) (*SessionReply, error)
	ConfirmMatch(context.Context, *MatchIDRequest) (*MatchReply, error)
	RejectMatch(context.Context, *MatchIDRequest) (*MatchReply, error)
	ListRules(context.Context, *ListRulesRequest) (*ListRulesReply, error)
	GetRule(context.Context, *RuleIDRequest) (*RuleReply, error)
	CreateRule(context.Context, *CreateRuleRequest) (*RuleReply, error)
	UpdateRule(context.Context, *UpdateRuleRequest) (*RuleReply, error)
	DeleteRule(context.Context, *DeleteRuleRequest) (*Empty, error)
	mustEmbedUnimplementedReconciliationServer()
}

// UnimplementedReconciliationServer must be embedded by implementations so
// methods added later fail with codes.Unimplemented.
type UnimplementedReconciliationServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedReconciliationServer) CreateSession(context.Context, *CreateSessionRequest) (*SessionReply, error) {
	return nil, unimplemented("CreateSession")
}
func (UnimplementedReconciliationServer) GetSession(context.Context, *GetSessionRequest) (*SessionViewReply, error) {
	return nil, unimplemented("GetSession")
}
func (UnimplementedReconciliationServer) ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsReply, error) {
	return nil, unimplemented("ListSessions")
}
func (UnimplementedReconciliationServer) ImportStatements(context.Context, *ImportStatementsRequest) (*ImportStatementsReply, error) {
	return nil, unimplemented("ImportStatements")
}
func (UnimplementedReconciliationServer) RunMatchingPass(context.Context, *SessionIDRequest) (*PassReply, error) {
	return nil, unimplemented("RunMatchingPass")
}
func (UnimplementedReconciliationServer) StopPass(context.Context, *SessionIDRequest) (*SessionReply, error) {
	return nil, unimplemented("StopPass")
}
func (UnimplementedReconciliationServer) CancelSession(context.Context, *SessionIDRequest) (*SessionReply, error) {
	return nil, unimplemented("CancelSession")
}
func (UnimplementedReconciliationServer) ConfirmMatch(context.Context, *MatchIDRequest) (*MatchReply, error) {
	return nil, unimplemented("ConfirmMatch")
}
func (UnimplementedReconciliationServer) RejectMatch(context.Context, *MatchIDRequest) (*MatchReply, error) {
	return nil, unimplemented("RejectMatch")
}
func (UnimplementedReconciliationServer) ListRules(context.Context, *ListRulesRequest) (*ListRulesReply, error) {
	return nil, unimplemented("ListRules")
}
func (UnimplementedReconciliationServer) GetRule(context.Context, *RuleIDRequest) (*RuleReply, error) {
	return nil, unimplemented("GetRule")
}
func (UnimplementedReconciliationServer) CreateRule(context.Context, *CreateRuleRequest) (*RuleReply, error) {
	return nil, unimplemented("CreateRule")
}
func (UnimplementedReconciliationServer) UpdateRule(context.Context, *UpdateRuleRequest) (*RuleReply, error) {
	return nil, unimplemented("UpdateRule")
}
func (UnimplementedReconciliationServer) DeleteRule(context.Context, *DeleteRuleRequest) (*Empty, error) {
	return nil, unimplemented("DeleteRule")
}
func (UnimplementedReconciliationServer) mustEmbedUnimplementedReconciliationServer() {}

// unary adapts a typed server method to a grpc.MethodHandler.
func unary[Req, Resp any](name string, call func(ReconciliationServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ReconciliationServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ReconciliationServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReconciliationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateSession", ReconciliationServer.CreateSession),
		unary("GetSession", ReconciliationServer.GetSession),
		unary("ListSessions", ReconciliationServer.ListSessions),
		unary("ImportStatements", ReconciliationServer.ImportStatements),
		unary("RunMatchingPass", ReconciliationServer.RunMatchingPass),
		unary("StopPass", ReconciliationServer.StopPass),
		unary("CancelSession", ReconciliationServer.CancelSession),
		unary("ConfirmMatch", ReconciliationServer.ConfirmMatch),
		unary("RejectMatch", ReconciliationServer.RejectMatch),
		unary("ListRules", ReconciliationServer.ListRules),
		unary("GetRule", ReconciliationServer.GetRule),
		unary("CreateRule", ReconciliationServer.CreateRule),
		unary("UpdateRule", ReconciliationServer.UpdateRule),
		unary("DeleteRule", ReconciliationServer.DeleteRule),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reconcile/v1/reconciliation",
}

func RegisterReconciliationServer(s grpc.ServiceRegistrar, srv ReconciliationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ReconciliationClient calls the service. Every call is sent with the JSON
// content subtype.
type ReconciliationClient struct {
	cc grpc.ClientConnInterface
}

func NewReconciliationClient(cc grpc.ClientConnInterface) *ReconciliationClient {
	return &ReconciliationClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReconciliationClient) CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*SessionReply, error) {
	return invoke[SessionReply](ctx, c.cc, "CreateSession", in, opts)
}

func (c *ReconciliationClient) GetSession(ctx context.Context, in *GetSessionRequest, opts ...grpc.CallOption) (*SessionViewReply, error) {
	return invoke[SessionViewReply](ctx, c.cc, "GetSession", in, opts)
}

func (c *ReconciliationClient) ListSessions(ctx context.Context, in *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsReply, error) {
	return invoke[ListSessionsReply](ctx, c.cc, "ListSessions", in, opts)
}

func (c *ReconciliationClient) ImportStatements(ctx context.Context, in *ImportStatementsRequest, opts ...grpc.CallOption) (*ImportStatementsReply, error) {
	return invoke[ImportStatementsReply](ctx, c.cc, "ImportStatements", in, opts)
}

func (c *ReconciliationClient) RunMatchingPass(ctx context.Context, in *SessionIDRequest, opts ...grpc.CallOption) (*PassReply, error) {
	return invoke[PassReply](ctx, c.cc, "RunMatchingPass", in, opts)
}

func (c *ReconciliationClient) StopPass(ctx context.Context, in *SessionIDRequest, opts ...grpc.CallOption) (*SessionReply, error) {
	return invoke[SessionReply](ctx, c.cc, "StopPass", in, opts)
}

func (c *ReconciliationClient) CancelSession(ctx context.Context, in *SessionIDRequest, opts ...grpc.CallOption) (*SessionReply, error) {
	return invoke[SessionReply](ctx, c.cc, "CancelSession", in, opts)
}

func (c *ReconciliationClient) ConfirmMatch(ctx context.Context, in *MatchIDRequest, opts ...grpc.CallOption) (*MatchReply, error) {
	return invoke[MatchReply](ctx, c.cc, "ConfirmMatch", in, opts)
}

func (c *ReconciliationClient) RejectMatch(ctx context.Context, in *MatchIDRequest, opts ...grpc.CallOption) (*MatchReply, error) {
	return invoke[MatchReply](ctx, c.cc, "RejectMatch", in, opts)
}

func (c *ReconciliationClient) ListRules(ctx context.Context, in *ListRulesRequest, opts ...grpc.CallOption) (*ListRulesReply, error) {
	return invoke[ListRulesReply](ctx, c.cc, "ListRules", in, opts)
}

func (c *ReconciliationClient) GetRule(ctx context.Context, in *RuleIDRequest, opts ...grpc.CallOption) (*RuleReply, error) {
	return invoke[RuleReply](ctx, c.cc, "GetRule", in, opts)
}

func (c *ReconciliationClient) CreateRule(ctx context.Context, in *CreateRuleRequest, opts ...grpc.CallOption) (*RuleReply, error) {
	return invoke[RuleReply](ctx, c.cc, "CreateRule", in, opts)
}

func (c *ReconciliationClient) UpdateRule(ctx context.Context, in *UpdateRuleRequest, opts ...grpc.CallOption) (*RuleReply, error) {
	return invoke[RuleReply](ctx, c.cc, "UpdateRule", in, opts)
}

func (c *ReconciliationClient) DeleteRule(ctx context.Context, in *DeleteRuleRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "DeleteRule", in, opts)
}
