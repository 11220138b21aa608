package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom reports false for requests that did not pass through Auth.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || c.UserID == uuid.Nil {
		return Caller{}, false
	}
	return c, true
}
