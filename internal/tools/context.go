package tools

import (
	"context"

	"helpdeskagent/internal/models"
)

type callerContextKey struct{}

// Caller describes who a tool runs on behalf of.
type Caller struct {
	SessionKey string
	Role       models.Role
	Identity   models.Identity
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey{}).(Caller)
	return c, ok
}
