package internal

import (
	"context"
	"time"
)

type ctxKey string

const contextOperatorKey ctxKey = "operator"

// Operator identifies the authenticated principal behind a request. Admin
// overrides record it in the audit log.
type Operator struct {
	UserID  int64
	Email   string
	IsAdmin bool
}

func OperatorFromContext(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok := ctx.Value(contextOperatorKey).(Operator)
	return op, ok
}

func ContextWithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, contextOperatorKey, op)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if
// duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
