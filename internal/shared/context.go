package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor ActingUser) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context. The zero value is
// returned when no actor was attached; callers validate before use.
func ActorFromContext(ctx context.Context) ActingUser {
	actor, _ := ctx.Value(actorContextKey{}).(ActingUser)
	return actor
}
