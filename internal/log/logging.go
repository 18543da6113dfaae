// Package log provides helpers for creating the configured slog.Logger used
// by every rtebind command.
//
// Without a log file, records below error go to stdout when it is a
// terminal and errors go to stderr. When stdout is piped every record goes
// to stderr, so stdout only carries command output such as the
// CGO_LDFLAGS export line. With a log file, the console only receives warnings
// and errors and the file receives everything at the requested level.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// LevelTrace sits below Debug and enables command transcripts on stdout.
const LevelTrace slog.Level = -8

func ParseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return LevelTrace
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

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// levelRange passes records whose level lies in [min, max).
type levelRange struct {
	min, max slog.Level
	h        slog.Handler
}

func (r levelRange) pass(l slog.Level) bool { return l >= r.min && l < r.max }

func (r levelRange) Enabled(ctx context.Context, level slog.Level) bool {
	return r.pass(level) && r.h.Enabled(ctx, level)
}

func (r levelRange) Handle(ctx context.Context, rec slog.Record) error {
	if !r.pass(rec.Level) {
		return nil
	}
	return r.h.Handle(ctx, rec)
}

func (r levelRange) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelRange{min: r.min, max: r.max, h: r.h.WithAttrs(attrs)}
}

func (r levelRange) WithGroup(name string) slog.Handler {
	return levelRange{min: r.min, max: r.max, h: r.h.WithGroup(name)}
}

const levelMax slog.Level = 1 << 10

func replaceTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// SetupLogger builds the console logger and, when logFile is set, a file
// handler. The returned closers must be closed on exit.
func SetupLogger(logLevel, logFile string) (*slog.Logger, []io.Closer, error) {
	return setup(consoleOut(os.Stdout, os.Stderr), os.Stderr, logLevel, logFile)
}

// consoleOut is where records below error go without a log file.
func consoleOut(stdout, stderr *os.File) io.Writer {
	if term.IsTerminal(int(stdout.Fd())) {
		return stdout
	}
	return stderr
}

func setup(stdout, stderr io.Writer, logLevel, logFile string) (*slog.Logger, []io.Closer, error) {
	level := ParseLevel(logLevel)
	opts := func(l slog.Level) *slog.HandlerOptions {
		return &slog.HandlerOptions{Level: l, ReplaceAttr: replaceTrace}
	}

	var handlers fanout
	var closers []io.Closer
	if logFile == "" {
		handlers = append(handlers,
			levelRange{min: level, max: slog.LevelError, h: slog.NewTextHandler(stdout, opts(level))},
			levelRange{min: slog.LevelError, max: levelMax, h: slog.NewTextHandler(stderr, opts(slog.LevelError))},
		)
	} else {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, f)
		handlers = append(handlers,
			slog.NewTextHandler(stderr, opts(slog.LevelWarn)),
			slog.NewTextHandler(f, opts(level)),
		)
	}
	return slog.New(handlers), closers, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelMax}))
}
