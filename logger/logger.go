package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var defaultLogger = slog.Default()
var levelVar = new(slog.LevelVar)

// LogLevel represents log levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration
type Config struct {
	Level  LogLevel `toml:"level" validate:"required,oneof=debug info warn error"`
	Format string   `toml:"format" validate:"required,oneof=text json"` // "text" or "json"
}

// Validate validates the logger configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// Init initializes the global logger with the given configuration
func Init(config Config) {
	if err := config.Validate(); err != nil {
		slog.Error("Invalid logger configuration", "error", err)
	}
	switch config.Level {
	case LevelDebug:
		levelVar.Set(slog.LevelDebug)
	case LevelInfo:
		levelVar.Set(slog.LevelInfo)
	case LevelWarn:
		levelVar.Set(slog.LevelWarn)
	case LevelError:
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: levelVar,
	}

	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = newConsoleHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// Reload maps a severity allow-list (the comfy settings style names, e.g.
// ["INFORMATIONAL", "WARNING"]) onto the active slog level. Error severities
// are always logged no matter what the list says.
func Reload(levels ...string) {
	enabled := make(map[string]bool, len(levels))
	for _, l := range levels {
		enabled[strings.ToUpper(strings.TrimSpace(l))] = true
	}

	switch {
	case enabled["DEBUG"]:
		levelVar.Set(slog.LevelDebug)
	case enabled["INFORMATIONAL"]:
		levelVar.Set(slog.LevelInfo)
	case enabled["WARNING"]:
		levelVar.Set(slog.LevelWarn)
	default:
		levelVar.Set(slog.LevelError)
	}
	Debug("Logger level reloaded", "enabled", levels)
}

// Level returns the currently active level.
func Level() slog.Level {
	return levelVar.Level()
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// With returns a logger with additional context
func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

// Fatal logs an error and exits the program
func Fatal(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}

// Node creates a logger with node context
func Node(nodeID string) *slog.Logger {
	return defaultLogger.With("node_id", nodeID)
}

// Service creates a logger with service context
func Service(service string) *slog.Logger {
	return defaultLogger.With("service", service)
}

const (
	purpleText = "\033[0;35m"
	redText    = "\033[0;31m"
	yellowText = "\033[0;33m"
	resetText  = "\033[0m"
	logPrefix  = "[sn0w] "
)

// consoleHandler prints a colored [sn0w] prefix per severity, then the
// message and attributes in key=value form.
type consoleHandler struct {
	out   *os.File
	opts  *slog.HandlerOptions
	attrs []slog.Attr
	mu    *sync.Mutex
}

func newConsoleHandler(out *os.File, opts *slog.HandlerOptions) *consoleHandler {
	return &consoleHandler{out: out, opts: opts, mu: &sync.Mutex{}}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	color := purpleText
	switch {
	case r.Level >= slog.LevelError:
		color = redText
	case r.Level >= slog.LevelWarn:
		color = yellowText
	}

	var b strings.Builder
	b.WriteString(color)
	b.WriteString(logPrefix)
	b.WriteString(resetText)
	b.WriteString(r.Message)
	for _, attr := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
	}
	r.Attrs(func(attr slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
		return true
	})
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.WriteString(b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{out: h.out, opts: h.opts, attrs: merged, mu: h.mu}
}

func (h *consoleHandler) WithGroup(string) slog.Handler {
	return h
}
