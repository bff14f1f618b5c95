package auth

import (
	"context"

	"github.com/you-humble/loggenie/internal/domain"
)

type callerKeyType struct{}

var callerKey callerKeyType

func CallerFromContext(ctx context.Context) (domain.Caller, bool) {
	c, ok := ctx.Value(callerKey).(domain.Caller)
	return c, ok
}

func NewContext(ctx context.Context, c domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}
