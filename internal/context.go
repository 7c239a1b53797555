package internal

import (
	"context"
)

type ctxKey string

const contextReplayKey ctxKey = "replayed"

// ContextWithReplay marks a request context as already replayed after a
// credential refresh. A replayed request never triggers another refresh.
func ContextWithReplay(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextReplayKey, true)
}

func IsReplay(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	replayed, _ := ctx.Value(contextReplayKey).(bool)
	return replayed
}
