package runstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/runstats/internal/collector"
	cfg "github.com/loykin/runstats/internal/config"
	"github.com/loykin/runstats/internal/document"
	"github.com/loykin/runstats/internal/history"
	"github.com/loykin/runstats/internal/logger"
	"github.com/loykin/runstats/internal/metrics"
	iapi "github.com/loykin/runstats/internal/server"
	"github.com/loykin/runstats/internal/statistics"
	itls "github.com/loykin/runstats/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Element = document.Element

type Node = statistics.Node

type RunRecord = statistics.RunRecord

type UpdateResult = statistics.UpdateResult

type Store = statistics.Store

type StoreOption = statistics.Option

type HistorySink = history.Sink

type HistoryEvent = history.Event

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() (*Config, error) { return cfg.Default() }

func NewElement(tag string, attrs ...string) *Element { return document.NewElement(tag, attrs...) }

// OpenStore opens a statistics store without the service around it. The
// caller must serialize access to the returned store.
func OpenStore(path string, opts ...StoreOption) (*Store, error) { return statistics.New(path, opts...) }

// NewLogger builds the structured logger described by the [log] section.
// The closer releases the log file.
func NewLogger(c *Config) (*slog.Logger, func() error) {
	l, closer := c.Logger().NewSlogger()
	return l, closer.Close
}

// Service is the statistics store with its collector, history sinks and HTTP
// router, wired from a Config.
type Service struct {
	cfg    *Config
	log    *slog.Logger
	col    *collector.Collector
	sinks  []history.Sink
	router *iapi.Router
}

// NewService opens the statistics file and every history sink. Extra sinks
// are added after the configured ones.
func NewService(c *Config, log *slog.Logger, extra ...HistorySink) (*Service, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if log == nil {
		log = slog.Default()
	}
	store, err := statistics.New(c.Statistics.Path,
		statistics.WithCodec(c.Codec()),
		statistics.WithMinWriteDelay(c.Statistics.MinWriteDelay),
		statistics.WithLogger(logger.Component(log, "statistics")),
	)
	if err != nil {
		return nil, fmt.Errorf("open statistics store: %w", err)
	}
	sinks, err := c.OpenSinks()
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, extra...)
	col, err := collector.New(store,
		collector.WithSinks(sinks...),
		collector.WithFlushSchedule(c.Statistics.FlushSchedule),
		collector.WithLogger(logger.Component(log, "collector")),
	)
	if err != nil {
		cfg.CloseSinks(sinks)
		return nil, err
	}
	if c.Metrics.Enabled {
		if err := RegisterMetricsDefault(); err != nil {
			log.Warn("Failed to register metrics", "error", err)
		}
	}
	router := iapi.NewRouter(col, c.Server.BasePath,
		iapi.WithLogger(logger.Component(log, "server")),
		iapi.WithMetrics(c.Metrics.Enabled && c.Metrics.Listen == ""),
	)
	return &Service{cfg: c, log: log, col: col, sinks: sinks, router: router}, nil
}

// Start begins the periodic flush schedule.
func (s *Service) Start() { s.col.Start() }

// Handler returns the HTTP API as a standalone handler.
func (s *Service) Handler() http.Handler { return s.router.Handler() }

// Router exposes the API router for mounting on an existing gin engine.
func (s *Service) Router() *iapi.Router { return s.router }

// NewHTTPServer starts the API server on addr. It serves HTTPS when
// server.tls is enabled.
func (s *Service) NewHTTPServer(addr string) (*http.Server, error) {
	tlsCfg, err := itls.Setup(s.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls setup: %w", err)
	}
	if tlsCfg == nil {
		return iapi.NewServer(addr, s.router), nil
	}
	return iapi.NewTLSServer(addr, s.router, tlsCfg)
}

func (s *Service) Report(ctx context.Context, client string, report *Element) (UpdateResult, error) {
	return s.col.Report(ctx, client, report)
}

func (s *Service) Flush(force bool) (bool, error) { return s.col.Flush(force) }

func (s *Service) Nodes() []Node { return s.col.Snapshot() }

func (s *Service) Node(client string) (Node, bool) { return s.col.Client(client) }

// Close stops the flush schedule, forces the final write and closes the sinks.
func (s *Service) Close(ctx context.Context) error {
	err := s.col.Close(ctx)
	cfg.CloseSinks(s.sinks)
	return err
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	return NewMetricsServer(addr).ListenAndServe()
}

// NewMetricsServer returns an unstarted server exposing /metrics.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
