package logging

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// syslogIdentifier tags every journal entry so journalctl -t can
// isolate this process.
const syslogIdentifier = "rtsptrace"

// JournalHandler forwards slog records to the systemd journal with
// attributes flattened into journal fields.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewJournalHandler creates a new journal handler. The level may be a
// *slog.LevelVar so the threshold can change at runtime.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]string{
		"SYSLOG_IDENTIFIER": syslogIdentifier,
	}
	for _, attr := range h.attrs {
		journalField(fields, attr, h.groups)
	}
	r.Attrs(func(attr slog.Attr) bool {
		journalField(fields, attr, h.groups)
		return true
	})

	return journal.Send(r.Message, journalPriority(r.Level), fields)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{
		level:  h.level,
		attrs:  slices.Concat(h.attrs, attrs),
		groups: h.groups,
	}
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &JournalHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}

// journalPriority maps slog levels onto syslog priorities.
func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalField flattens one attribute into the fields map. Journal
// field names are uppercase by convention; group names become key
// prefixes joined with underscores.
func journalField(fields map[string]string, attr slog.Attr, groups []string) {
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, "_") + "_" + key
	}
	key = strings.ToUpper(key)

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		fields[key] = value.String()
	case slog.KindInt64:
		fields[key] = strconv.FormatInt(value.Int64(), 10)
	case slog.KindUint64:
		fields[key] = strconv.FormatUint(value.Uint64(), 10)
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(value.Float64(), 'g', -1, 64)
	case slog.KindBool:
		fields[key] = strconv.FormatBool(value.Bool())
	case slog.KindDuration:
		fields[key] = value.Duration().String()
	case slog.KindTime:
		fields[key] = value.Time().Format(time.RFC3339Nano)
	case slog.KindGroup:
		inner := groups
		if attr.Key != "" {
			inner = append(slices.Clone(groups), attr.Key)
		}
		for _, a := range value.Group() {
			journalField(fields, a, inner)
		}
	default:
		fields[key] = value.String()
	}
}

// journalAvailable reports whether a systemd journal socket accepts
// entries from this process.
func journalAvailable() bool {
	return journal.Enabled()
}
