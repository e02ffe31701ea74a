package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting user's ID in the context. The HTTP
// layer resolves the actor; services always receive it as an explicit
// parameter, the context copy exists for logging middleware only.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user's ID, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
