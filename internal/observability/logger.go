package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/sqllink/sqllink/internal/config"
)

type ctxKey string

const msgIDKey ctxKey = "msg_id"

// NewLogger builds the process logger. Callers pass stderr: stdout carries
// protocol responses and must not receive log lines.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithMsgID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, msgIDKey, msgID)
}

func MsgIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(msgIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
