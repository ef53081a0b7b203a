package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/security"
)

// Metadata keys mirroring the HTTP headers.
const (
	ActorKey         = "x-actor"
	CorrelationIDKey = "x-correlation-id"
)

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// identityInterceptor takes the caller's actor and correlation id from
// metadata and echoes the correlation id in the response header.
func identityInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	cid := firstValue(md, CorrelationIDKey)
	if cid == "" || len(cid) > 128 {
		cid = uuid.NewString()
	}
	ctx = security.WithCorrelationID(ctx, cid)
	_ = grpc.SetHeader(ctx, metadata.Pairs(CorrelationIDKey, cid))

	if actor := firstValue(md, ActorKey); actor != "" {
		if !security.ValidActor(actor) {
			return nil, status.Error(codes.InvalidArgument, "x-actor must be printable, without spaces, at most 128 bytes")
		}
		ctx = recon.WithActor(ctx, actor)
	}
	return handler(ctx, req)
}

func loggingInterceptor(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		l.Info("grpc_request",
			"cid", security.CorrelationIDFromContext(ctx),
			"actor", recon.ActorFromContext(ctx),
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

func errorInterceptor(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, toStatus(ctx, l, info.FullMethod, err)
		}
		return resp, nil
	}
}

// outgoingIdentity forwards the context's actor and correlation id.
func outgoingIdentity(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if actor := recon.ActorFromContext(ctx); actor != recon.SystemActor {
		ctx = metadata.AppendToOutgoingContext(ctx, ActorKey, actor)
	}
	if cid := security.CorrelationIDFromContext(ctx); cid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, CorrelationIDKey, cid)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
