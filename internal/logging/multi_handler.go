package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler copies each record to every wrapped handler.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler bundles handlers into one.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports true when any wrapped handler would accept the level.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every enabled handler. One handler
// failing does not stop delivery to the rest; the errors come back
// joined.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.wrap(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.wrap(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) wrap(f func(slog.Handler) slog.Handler) slog.Handler {
	wrapped := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		wrapped[i] = f(h)
	}
	return &MultiHandler{handlers: wrapped}
}
