package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config level name onto slog's levels. Unknown names
// fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates the process logger. format is "json" or "text"; every
// record passes through sensitive-field redaction before it is written.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(NewRedactingHandler(handler))
}

// sensitiveFields are attribute keys whose values are never written to the
// log, compared case-insensitively with underscores stripped.
var sensitiveFields = map[string]bool{
	"apikey":       true,
	"secret":       true,
	"secretkey":    true,
	"password":     true,
	"token":        true,
	"credential":   true,
	"mastersecret": true,
	"tokensecret":  true,
	"plaintext":    true,
}

// RedactingHandler wraps an slog.Handler and replaces the values of
// sensitive attributes with "[REDACTED]". Log sites stay free of
// redaction concerns; the handler is the single choke point.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps handler with sensitive-attribute redaction.
func NewRedactingHandler(handler slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: handler}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = redactAttr(attr)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	normalized := strings.ToLower(strings.ReplaceAll(attr.Key, "_", ""))
	if sensitiveFields[normalized] {
		return slog.String(attr.Key, "[REDACTED]")
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		redacted := make([]any, 0, len(group))
		for _, member := range group {
			redacted = append(redacted, redactAttr(member))
		}
		return slog.Group(attr.Key, redacted...)
	}
	return attr
}
