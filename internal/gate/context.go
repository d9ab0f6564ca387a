package gate

import "context"

type actorContextKey struct{}

// ContextWithActor attaches the authenticated acting profile to the context.
func ContextWithActor(ctx context.Context, profile *Profile) context.Context {
	if profile == nil {
		return ctx
	}
	return context.WithValue(ctx, actorContextKey{}, profile)
}

// ActorFromContext extracts the acting profile from the context.
func ActorFromContext(ctx context.Context) (*Profile, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(actorContextKey{}).(*Profile)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
