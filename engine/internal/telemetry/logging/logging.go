// Package logging wraps log/slog with a custom handler that renders the
// console wire format every task and the Main Coordinator write to:
// <unix_millis>|<LEVEL_3>|<MODULE_2>|k1=v1,k2=v2,...
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	tracing "github.com/orefield/haulcore/engine/internal/telemetry/tracing"
)

// LevelCrit sits above slog's built-in levels; the wire format needs a
// fifth severity (CRT) the standard library doesn't define.
const LevelCrit = slog.Level(12)

// Module codes, per the console wire format.
const (
	ModuleMain           = "MA"
	ModuleSensorFilter   = "SP"
	ModuleCommandMode    = "CB"
	ModuleWatchdog       = "CL"
	ModuleFaultDetector  = "FM"
	ModuleNavigation     = "NC"
	ModuleRoutePlanner   = "RP"
	ModuleDataLogger     = "DC"
	ModuleLocalSnapshot  = "LI"
)

// consoleHandler implements slog.Handler, rendering one line per record.
type consoleHandler struct {
	mu       *sync.Mutex
	out      io.Writer
	minLevel slog.Level
	attrs    []slog.Attr
}

func NewConsoleHandler(out io.Writer, minLevel slog.Level) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, out: out, minLevel: minLevel}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	module := "??"
	parts := make([]string, 0, r.NumAttrs()+len(h.attrs))
	consume := func(a slog.Attr) bool {
		if a.Key == "module" {
			module = a.Value.String()
			return true
		}
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		consume(a)
	}
	r.Attrs(func(a slog.Attr) bool { return consume(a) })
	line := fmt.Sprintf("%d|%s|%s|%s\n", r.Time.UnixMilli(), levelCode(r.Level), module, strings.Join(parts, ","))
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{mu: h.mu, out: h.out, minLevel: h.minLevel, attrs: merged}
}

// WithGroup is a no-op; the wire format has no concept of attribute groups.
func (h *consoleHandler) WithGroup(name string) slog.Handler { return h }

func levelCode(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DBG"
	case l < slog.LevelWarn:
		return "INF"
	case l < slog.LevelError:
		return "WRN"
	case l < LevelCrit:
		return "ERR"
	default:
		return "CRT"
	}
}

// ParseLevel parses the LOG_LEVEL environment variable. ok is false on an
// unrecognized value, in which case the caller should fall back to a
// default and log a configuration warning.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERR":
		return slog.LevelError, true
	case "CRIT":
		return LevelCrit, true
	case "":
		return slog.LevelInfo, true
	default:
		return slog.LevelInfo, false
	}
}

var root atomic.Pointer[slog.Logger]

func init() {
	Init(os.Stdout, slog.LevelInfo)
}

// Init (re)configures the process-wide console logger. Called once at
// startup after LOG_LEVEL has been parsed.
func Init(out io.Writer, level slog.Level) {
	root.Store(slog.New(NewConsoleHandler(out, level)))
}

// Logger is the per-subsystem logging facade every task holds.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Crit(ctx context.Context, msg string, args ...any)
}

type correlatedLogger struct {
	base *slog.Logger
}

// For returns a Logger stamped with the given module code.
func For(moduleCode string) Logger {
	return &correlatedLogger{base: root.Load().With("module", moduleCode)}
}

func (l *correlatedLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if traceID, spanID := tracing.ExtractIDs(ctx); traceID != "" {
		args = append(args, "trace_id", traceID, "span_id", spanID)
	}
	l.base.Log(ctx, level, msg, args...)
}

func (l *correlatedLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}
func (l *correlatedLogger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}
func (l *correlatedLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}
func (l *correlatedLogger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}
func (l *correlatedLogger) Crit(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelCrit, msg, args...)
}
