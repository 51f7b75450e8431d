package es

import "context"

// Actor is the identity a command is dispatched under. The dispatcher
// refuses commands whose tenant differs from the actor's tenant.
type Actor struct {
	TenantID    TenantID
	PrincipalID PrincipalID
}

type actorKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom extracts the actor from the context.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
