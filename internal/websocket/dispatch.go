package websocket

import (
	"context"
	"log/slog"

	"idylle/internal/action"
	"idylle/internal/iocontext"
)

// Dispatch adapts an action to a MessageHandler. Each frame gets a freshly
// built context; the reply carries the frame's token back to the client.
func Dispatch(env action.Env, h action.Handler) MessageHandler {
	return func(ctx context.Context, c *Client, event string, raw any) {
		ic, err := iocontext.Build(c, raw, env.Criteria())
		if err != nil {
			emit(ctx, env, event, c.EmitError(event, nil, env.Errors().ErrorPayload(ctx, err)))
			return
		}

		result, err := action.Call(ctx, h, env, ic)
		if err != nil {
			emit(ctx, env, event, c.EmitError(event, ic.Token(), env.Errors().ErrorPayload(ctx, err)))
			return
		}
		emit(ctx, env, event, c.Emit(event, ic.Token(), env.Responses().Payload(ctx, result)))
	}
}

func emit(ctx context.Context, env action.Env, event string, err error) {
	if err != nil {
		env.Logger().DebugContext(ctx, "reply not delivered",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
