package recon

import "context"

// SystemActor resolves matches when no caller identity is present.
const SystemActor = "system"

type actorKey struct{}

// WithActor attaches the caller identity used for resolvedBy and audit entries.
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the caller identity or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}
