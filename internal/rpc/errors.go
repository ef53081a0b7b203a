package rpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/recon-engine/internal/recon"
)

// toStatus maps the domain error taxonomy onto gRPC codes. Internal errors
// are logged and reported without detail.
func toStatus(ctx context.Context, l *slog.Logger, method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, recon.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, recon.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, recon.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	l.ErrorContext(ctx, "rpc failed", "method", method, "error", err)
	return status.Error(codes.Internal, "internal error")
}

// remoteError carries a server-side domain error back to the caller so
// errors.Is works against the recon sentinels.
type remoteError struct {
	sentinel error
	message  string
}

func (e *remoteError) Error() string {
	return e.message
}

func (e *remoteError) Is(target error) bool {
	return target == e.sentinel
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = recon.ErrValidation
	case codes.NotFound:
		sentinel = recon.ErrNotFound
	case codes.Aborted:
		sentinel = recon.ErrConflict
	case codes.Internal:
		sentinel = recon.ErrInternal
	default:
		return err
	}
	return &remoteError{sentinel: sentinel, message: st.Message()}
}
