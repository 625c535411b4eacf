// Package collector is the concurrent entry point to a statistics store. It
// serializes updates, exports every accepted run to history sinks, records
// metrics and flushes the store on a schedule and at shutdown.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/runstats/internal/document"
	"github.com/loykin/runstats/internal/history"
	"github.com/loykin/runstats/internal/metrics"
	"github.com/loykin/runstats/internal/statistics"
)

// DefaultFlushSchedule re-checks the throttle as often as the default minimum
// write delay allows a write.
const DefaultFlushSchedule = "@every 30s"

// sinkTimeout bounds a single history export.
const sinkTimeout = 5 * time.Second

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a usable flush schedule.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid flush schedule %q: %w", expr, err)
	}
	return nil
}

// ErrClosed is returned by Report and Flush after Close.
var ErrClosed = errors.New("collector closed")

// Collector owns one statistics store and the lock that guards it.
type Collector struct {
	mu     sync.Mutex
	store  *statistics.Store
	closed bool

	sinks    []history.Sink
	log      *slog.Logger
	schedule string

	scheduler *cron.Cron
	started   bool
}

type Option func(*Collector)

// WithSinks adds history sinks that receive an event for every report.
func WithSinks(s ...history.Sink) Option {
	return func(c *Collector) { c.sinks = append(c.sinks, s...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithFlushSchedule sets the cron expression of the periodic non-forced flush.
// An empty expression disables periodic flushing.
func WithFlushSchedule(expr string) Option {
	return func(c *Collector) { c.schedule = expr }
}

// New wraps store. The store must not be used directly afterwards.
func New(store *statistics.Store, opts ...Option) (*Collector, error) {
	if store == nil {
		return nil, errors.New("collector: nil store")
	}
	c := &Collector{
		store:    store,
		log:      slog.Default(),
		schedule: DefaultFlushSchedule,
	}
	for _, o := range opts {
		o(c)
	}
	c.scheduler = cron.New(cron.WithParser(scheduleParser))
	if c.schedule != "" {
		if _, err := c.scheduler.AddFunc(c.schedule, c.tick); err != nil {
			return nil, fmt.Errorf("failed to schedule flush %q: %w", c.schedule, err)
		}
	}
	metrics.SetClients(store.Len())
	return c, nil
}

// Start begins periodic flushing. It is a no-op when already started.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.scheduler.Start()
	c.log.Info("Statistics flush scheduled", "schedule", c.schedule, "path", c.store.Path())
}

func (c *Collector) tick() {
	if _, err := c.Flush(false); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Error("Scheduled statistics flush failed", "error", err)
	}
}

// Report applies one client report to the store and exports the outcome to
// every history sink. Sink failures are logged, never returned.
func (c *Collector) Report(ctx context.Context, client string, report *document.Element) (statistics.UpdateResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return statistics.UpdateResult{}, ErrClosed
	}
	start := time.Now()
	res, err := c.store.Update(client, report)
	elapsed := time.Since(start)
	clients := c.store.Len()
	c.mu.Unlock()

	var werr *statistics.WriteError
	switch {
	case errors.As(err, &werr):
		metrics.ObserveWrite(elapsed.Seconds(), err)
		c.log.Error("Failed to write statistics file", "client", client, "error", err)
	case err != nil:
		return res, err
	case res.Flushed:
		metrics.ObserveWrite(elapsed.Seconds(), nil)
	}

	if res.Action == statistics.ActionSkipped {
		metrics.IncDuplicate()
	}
	metrics.IncReport(res.State == statistics.StateClean, string(res.Action))
	metrics.SetClients(clients)

	c.publish(ctx, res)
	return res, err
}

func (c *Collector) publish(ctx context.Context, res statistics.UpdateResult) {
	if len(c.sinks) == 0 {
		return
	}
	typ := history.EventRun
	if res.Action == statistics.ActionSkipped {
		typ = history.EventSkipped
	}
	at := res.Time
	if at.IsZero() {
		at = time.Now()
	}
	e := history.NewEvent(typ, at)
	e.Client = res.Client
	e.State = res.State
	e.Clean = res.State == statistics.StateClean
	e.Action = string(res.Action)
	e.Records = res.Records

	// a cancelled request must not drop the export
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, s := range c.sinks {
		if err := s.Send(ctx, e); err != nil {
			c.log.Warn("Failed to export run event", "client", e.Client, "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
}

// Flush runs WriteBack under the store lock.
func (c *Collector) Flush(force bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	return c.flushLocked(force)
}

func (c *Collector) flushLocked(force bool) (bool, error) {
	start := time.Now()
	wrote, err := c.store.WriteBack(force)
	if wrote || err != nil {
		metrics.ObserveWrite(time.Since(start).Seconds(), err)
	}
	if wrote {
		c.log.Debug("Statistics file written", "path", c.store.Path(), "forced", force)
	}
	return wrote, err
}

// Close stops the schedule, waits for a running flush and forces a final
// write. When that write fails the collector stays open and Close may be
// called again. Calls after a successful Close return nil.
func (c *Collector) Close(ctx context.Context) error {
	stopped := c.scheduler.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if _, err := c.flushLocked(true); err != nil {
		return fmt.Errorf("final statistics flush: %w", err)
	}
	c.closed = true
	c.log.Info("Statistics store closed", "path", c.store.Path(), "clients", c.store.Len())
	return nil
}

// Snapshot returns a copy of every node in file order.
func (c *Collector) Snapshot() []statistics.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Nodes()
}

// Client returns a copy of the client's node.
func (c *Collector) Client(name string) (statistics.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Node(name)
}

// Status summarizes the store for health reporting.
type Status struct {
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	Clients   int       `json:"clients"`
	Dirty     bool      `json:"dirty"`
	LastWrite time.Time `json:"last_write"`
	Conflicts []string  `json:"conflicts,omitempty"`
}

func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Path:      c.store.Path(),
		Format:    c.store.Codec().Name(),
		Clients:   c.store.Len(),
		Dirty:     c.store.Dirty(),
		LastWrite: c.store.LastWrite(),
		Conflicts: c.store.Conflicts(),
	}
}
