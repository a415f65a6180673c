package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config selects the log output format and the level thresholds. Any
// key in Modules names a module whose level overrides the global one.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// registry holds the loggers handed out so far. Levels live in
// LevelVars so Initialize can retune loggers created before the
// configuration was read.
type registry struct {
	mu      sync.RWMutex
	config  Config
	ready   bool
	loggers map[string]*slog.Logger
	levels  map[string]*slog.LevelVar
}

var reg = &registry{
	loggers: make(map[string]*slog.Logger),
	levels:  make(map[string]*slog.LevelVar),
}

// Initialize applies the configuration: it retunes every existing
// module logger, rebuilds their handlers so pre-Initialize loggers pick
// up the format, and swaps the process default logger.
func Initialize(config Config) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.config = config
	reg.ready = true

	for module, lv := range reg.levels {
		lv.Set(levelFor(config, module))
		reg.loggers[module] = moduleLogger(config.Format, module, lv)
	}

	root := &slog.LevelVar{}
	root.Set(levelFor(config, ""))
	slog.SetDefault(slog.New(buildHandler(config.Format, root)))
}

// GetLogger returns the logger for a module, creating it on first use.
// Callers may keep the returned logger: its level threshold lives in a
// shared LevelVar that Initialize retunes in place.
func GetLogger(module string) *slog.Logger {
	reg.mu.RLock()
	logger, ok := reg.loggers[module]
	reg.mu.RUnlock()
	if ok {
		return logger
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if logger, ok := reg.loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if reg.ready {
		lv.Set(levelFor(reg.config, module))
		format = reg.config.Format
	} else {
		lv.Set(slog.LevelInfo)
	}

	logger = moduleLogger(format, module, lv)
	reg.loggers[module] = logger
	reg.levels[module] = lv
	return logger
}

// levelFor resolves the effective level for a module: the module
// override when present and parseable, otherwise the global level,
// otherwise info.
func levelFor(cfg Config, module string) slog.Level {
	level := slog.LevelInfo
	if parsed := parseLevel(cfg.Level); parsed != nil {
		level = *parsed
	}
	if override, ok := cfg.Modules[module]; ok {
		if parsed := parseLevel(override); parsed != nil {
			level = *parsed
		}
	}
	return level
}

func moduleLogger(format, module string, level slog.Leveler) *slog.Logger {
	return slog.New(buildHandler(format, level)).With("module", module)
}

// buildHandler assembles the output chain for one logger: stdout when
// something is connected to it, the systemd journal when running under
// one, both through a MultiHandler when both apply.
func buildHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var outs []slog.Handler
	if stdoutConnected() {
		outs = append(outs, stdout)
	}
	if journalAvailable() {
		outs = append(outs, NewJournalHandler(level))
	}

	switch len(outs) {
	case 0:
		return stdout
	case 1:
		return outs[0]
	default:
		return NewMultiHandler(outs...)
	}
}

// stdoutConnected reports whether stdout goes anywhere useful: a
// terminal, pipe, socket or regular file. /dev/null is a device and
// reports false.
func stdoutConnected() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts a level name to its slog.Level. Unknown names
// return nil so callers can fall back rather than silently misread.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
