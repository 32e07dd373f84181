package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Slog returns a *slog.Logger whose records are written through l. A nil l
// falls back to the global logger.
func Slog(l *Logger) *slog.Logger {
	if l == nil {
		l = Global()
	}
	return slog.New(NewSlogHandler(l))
}

// NewSlogHandler returns a slog.Handler that forwards records to l.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return slog.NewTextHandler(io.Discard, nil)
	}
	return &slogAdapter{log: l}
}

type slogAdapter struct {
	log    *Logger
	groups []string
	// attrs added through WithAttrs, already rendered with the groups that
	// were open at the time.
	bound string
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	current := h.log.GetLevel()
	return current != LevelNone && slogLevelToLoggerLevel(level) >= current
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	attrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})

	message := record.Message
	if attrText := joinNonEmpty(h.bound, formatAttrs(attrs, h.groups)); attrText != "" {
		if message != "" {
			message += " " + attrText
		} else {
			message = attrText
		}
	}

	h.log.log(slogLevelToLoggerLevel(record.Level), "%s", message)
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &slogAdapter{
		log:    h.log,
		groups: append([]string(nil), h.groups...),
		bound:  joinNonEmpty(h.bound, formatAttrs(attrs, h.groups)),
	}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	newGroups := append([]string(nil), h.groups...)
	if name != "" {
		newGroups = append(newGroups, name)
	}
	return &slogAdapter{
		log:    h.log,
		groups: newGroups,
		bound:  h.bound,
	}
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

func slogLevelToLoggerLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func formatAttrs(attrs []slog.Attr, groups []string) string {
	var builder strings.Builder
	for _, attr := range attrs {
		writeAttr(&builder, attr, groups)
	}
	return builder.String()
}

func writeAttr(builder *strings.Builder, attr slog.Attr, prefix []string) {
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		nestedPrefix := append(append([]string(nil), prefix...), attr.Key)
		for _, nested := range attr.Value.Group() {
			writeAttr(builder, nested, nestedPrefix)
		}
		return
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	if builder.Len() > 0 {
		builder.WriteByte(' ')
	}
	fmt.Fprintf(builder, "%s=%v", strings.Join(append(append([]string(nil), prefix...), key), "."), attr.Value)
}
