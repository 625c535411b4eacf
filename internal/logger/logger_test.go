package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

var testTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriter_NoFile(t *testing.T) {
	if w := (Config{}).Writer(); w != nil {
		t.Fatalf("expected nil writer when no path set")
	}
}

func TestWriter_Defaults(t *testing.T) {
	cfg := Config{File: FileConfig{Path: "x"}}
	w := cfg.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	closeIf(w)
}

func TestWriter_Overrides(t *testing.T) {
	cfg := Config{File: FileConfig{Path: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	l := cfg.Writer().(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	closeIf(l)
}

func TestNewSlogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runstats.log")
	var term bytes.Buffer
	cfg := Config{Level: "debug", File: FileConfig{Path: path}}
	log, closer := cfg.newSlogger(&term)
	log.Debug("flushed statistics", "path", "/tmp/s.xml")
	closeIf(closer)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), "flushed statistics") {
		t.Fatalf("file missing record: %q", b)
	}
	if !strings.Contains(term.String(), "flushed statistics") {
		t.Fatalf("terminal missing record: %q", term.String())
	}
}

func TestNewSlogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer := Config{Format: "JSON"}.newSlogger(&buf)
	defer closeIf(closer)
	log.Info("report", "client", "web1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if rec["client"] != "web1" || rec["msg"] != "report" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; ok {
		t.Fatalf("time should be omitted without TimeStamps: %v", rec)
	}
}

func TestNewSlogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, _ := Config{Level: "warn"}.newSlogger(&buf)
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestNewSlogger_Color(t *testing.T) {
	var buf bytes.Buffer
	log, _ := Config{Color: true}.newSlogger(&buf)
	Component(log, "store").Error("write failed")
	out := buf.String()
	if !strings.Contains(out, "\033[31m") {
		t.Fatalf("expected red escape in %q", out)
	}
	if !strings.Contains(out, "component=store") {
		t.Fatalf("component attribute lost: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorTextHandler_Levels(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, true)
	for _, lvl := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if err := h.Handle(context.Background(), slog.NewRecord(testTime, lvl, "m", 0)); err != nil {
			t.Fatal(err)
		}
	}
	out := buf.String()
	for _, code := range []string{"\033[36m", "\033[32m", "\033[33m"} {
		if !strings.Contains(out, code) {
			t.Errorf("missing %q in %q", code, out)
		}
	}
	if !strings.Contains(out, "time=") {
		t.Errorf("showTime should keep timestamps: %q", out)
	}
}
