package bus

import (
	"context"
	"log/slog"
)

// LogMiddleware logs every packet that reaches a handler, the
// generalization of the teacher's stanza-oriented LogMiddleware to the
// bus's domain/kind-addressed Packet.
func LogMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, p Packet) (Result, error) {
			logger.Debug("bus: packet",
				slog.Int("kind", int(p.Kind)),
				slog.String("from", p.From.String()),
				slog.String("to", p.To.String()),
				slog.Bool("bounced", p.Bounced))
			return next.HandlePacket(ctx, p)
		})
	}
}

// RecoverMiddleware recovers from panics in a handler so that one
// misbehaving module doesn't take the whole bus thread down with it.
func RecoverMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, p Packet) (res Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("bus: recovered from panic in handler", slog.Any("panic", r))
					res, err = ResultErr, nil
				}
			}()
			return next.HandlePacket(ctx, p)
		})
	}
}
