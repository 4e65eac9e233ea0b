package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Setup installs the process-wide slog logger. Development gets text output
// at debug level, everything else JSON at info.
func Setup(development bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, development)))
}

func NewHandler(w io.Writer, development bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if development {
		opts.Level = slog.LevelDebug
		return NewTraceHandler(slog.NewTextHandler(w, opts))
	}
	return NewTraceHandler(slog.NewJSONHandler(w, opts))
}

// TraceHandler adds span ids and context log fields to each record.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	fields := GetLogFields(ctx)
	if fields.SessionKey != "" {
		r.AddAttrs(slog.String("session_key", fields.SessionKey))
	}
	if fields.Role != "" {
		r.AddAttrs(slog.String("role", fields.Role))
	}
	if fields.Email != "" {
		r.AddAttrs(slog.String("email", fields.Email))
	}
	if fields.Channel != "" {
		r.AddAttrs(slog.String("channel", fields.Channel))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}
