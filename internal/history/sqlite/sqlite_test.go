package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/runstats/internal/history"
)

func runEvent(client, state string) history.Event {
	e := history.NewEvent(history.EventRun, time.Now())
	e.Client = client
	e.State = state
	e.Clean = state == "clean"
	e.Action = "created"
	e.Records = 1
	return e
}

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	for _, state := range []string{"clean", "dirty"} {
		if err := sink.Send(ctx, runEvent("host1", state)); err != nil {
			t.Fatalf("Failed to send %s event: %v", state, err)
		}
	}

	n, err := sink.Count(ctx, "host1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestSQLiteSink_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	first, err := New(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Send(ctx, runEvent("a", "clean")); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = first.Close()

	second, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = second.Close() }()
	n, err := second.Count(ctx, "a")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row after reopen, got %d (%v)", n, err)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, runEvent("mem", "dirty")); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	n, err := sink.Count(ctx, "mem")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", n, err)
	}
}

func TestSQLiteSink_DuplicateIDRejected(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	e := runEvent("dup", "clean")
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := sink.Send(ctx, e); err == nil {
		t.Fatal("expected primary key violation for repeated event id")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Send(ctx, runEvent("x", "clean")); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
