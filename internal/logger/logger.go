package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level names accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Output formats accepted by Config.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// FileConfig describes the rotating log file. Rotation parameters follow
// lumberjack semantics. An empty Path keeps output on the terminal only.
type FileConfig struct {
	Path       string
	MaxSizeMB  int  // megabytes before rotation (default 10)
	MaxBackups int  // number of backups to keep (default 3)
	MaxAgeDays int  // days to keep (default 7)
	Compress   bool // Gzip rotated files
}

// Config describes the server's structured logger.
type Config struct {
	Level      string // debug, info, warn, error (default info)
	Format     string // text or json (default text)
	Color      bool   // ANSI level colors, text format on a terminal only
	TimeStamps bool
	Source     bool
	File       FileConfig
}

// Writer returns the rotating file writer, or nil when no file is configured.
func (c Config) Writer() io.WriteCloser {
	if c.File.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File.Path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// NewSlogger builds a logger writing to stdout and, when configured, to the
// rotating file. The returned closer releases the file and is never nil.
func (c Config) NewSlogger() (*slog.Logger, io.Closer) {
	return c.newSlogger(os.Stdout)
}

func (c Config) newSlogger(terminal io.Writer) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Level),
		AddSource: c.Source,
	}
	if !c.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	var closer io.Closer = nopCloser{}
	out := terminal
	fw := c.Writer()
	if fw != nil {
		closer = fw
		out = io.MultiWriter(terminal, fw)
	}

	var h slog.Handler
	switch {
	case strings.EqualFold(c.Format, FormatJSON):
		h = slog.NewJSONHandler(out, opts)
	case c.Color && fw == nil:
		// escape codes stay out of the log file
		h = NewColorTextHandler(out, opts, c.TimeStamps)
	default:
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closer
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns l tagged with a component attribute.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
