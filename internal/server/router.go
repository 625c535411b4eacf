package server

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/runstats/internal/collector"
	"github.com/loykin/runstats/internal/document"
	"github.com/loykin/runstats/internal/metrics"
	"github.com/loykin/runstats/internal/statistics"
	"github.com/loykin/runstats/pkg/client"
)

// MaxReportBytes caps the size of an uploaded report.
const MaxReportBytes = 8 << 20

// Router provides embeddable HTTP handlers for the statistics store.
// Endpoints:
//
//	POST {basePath}/clients/:name/reports  body: report (XML, or YAML by Content-Type)
//	GET  {basePath}/clients                all nodes in file order
//	GET  {basePath}/clients/:name          one node, 404 when unknown
//	POST {basePath}/flush                  query: force=true (optional)
//	GET  {basePath}/healthz
//	GET  /metrics                          when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	col      *collector.Collector
	basePath string
	log      *slog.Logger
	metrics  bool
}

type RouterOption func(*Router)

// WithMetrics serves the Prometheus handler at /metrics.
func WithMetrics(enabled bool) RouterOption {
	return func(r *Router) { r.metrics = enabled }
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/clients, /api/flush, /api/healthz.
func NewRouter(col *collector.Collector, basePath string, opts ...RouterOption) *Router {
	r := &Router{col: col, basePath: sanitizeBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register mounts the API routes on an existing gin engine or group.
func (r *Router) Register(g gin.IRouter) {
	group := g.Group(r.basePath)
	group.POST("/clients/:name/reports", r.handleReport)
	group.GET("/clients", r.handleClients)
	group.GET("/clients/:name", r.handleClient)
	group.POST("/flush", r.handleFlush)
	group.GET("/healthz", r.handleHealth)
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Shutdown on the returned server to stop it.
func NewServer(addr string, r *Router) *http.Server {
	server := newHTTPServer(addr, r)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("HTTP server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// NewTLSServer is NewServer over HTTPS. The certificate comes from tlsCfg,
// so no files are passed to ListenAndServeTLS.
func NewTLSServer(addr string, r *Router, tlsCfg *tls.Config) (*http.Server, error) {
	if tlsCfg == nil {
		return nil, errors.New("nil TLS config")
	}
	server := newHTTPServer(addr, r)
	server.TLSConfig = tlsCfg
	go func() {
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("HTTPS server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

func newHTTPServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp = client.ErrorResponse

func (r *Router) handleReport(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid client name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxReportBytes))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	codec := codecFor(c.GetHeader("Content-Type"))
	report, err := codec.Decode(body)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + codec.Name() + " report: " + err.Error()})
		return
	}

	res, err := r.col.Report(c.Request.Context(), name, report)
	switch {
	case errors.Is(err, statistics.ErrNoRunRecord), errors.Is(err, statistics.ErrEmptyClient),
		errors.Is(err, statistics.ErrInvalidRecord):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	case errors.Is(err, collector.ErrClosed):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	case err != nil:
		// *statistics.WriteError: the change is applied in memory only
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.log.Debug("Report applied", "client", name, "state", res.State, "action", res.Action, "flushed", res.Flushed)
	writeJSON(c, http.StatusOK, client.ReportResponse{
		Client:  res.Client,
		Action:  string(res.Action),
		State:   res.State,
		Time:    res.Time,
		Records: res.Records,
		Flushed: res.Flushed,
	})
}

func (r *Router) handleClients(c *gin.Context) {
	nodes := r.col.Snapshot()
	out := make([]client.Node, 0, len(nodes))
	for i := range nodes {
		out = append(out, NodeView(&nodes[i]))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleClient(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid client name"})
		return
	}
	n, ok := r.col.Client(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown client: " + name})
		return
	}
	writeJSON(c, http.StatusOK, NodeView(&n))
}

func (r *Router) handleFlush(c *gin.Context) {
	force := c.Query("force") == "true" || c.Query("force") == "1"
	wrote, err := r.col.Flush(force)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, collector.ErrClosed) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, client.FlushResponse{Flushed: wrote})
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.col.Status()
	h := client.Health{
		Status: "ok",
		Store: client.StoreStatus{
			Path:      st.Path,
			Format:    st.Format,
			Clients:   st.Clients,
			Dirty:     st.Dirty,
			LastWrite: st.LastWrite,
			Conflicts: st.Conflicts,
		},
	}
	if len(st.Conflicts) > 0 {
		h.Status = "degraded"
	}
	if u, err := metrics.SelfUsage(); err == nil {
		h.Process = &client.ProcessInfo{
			PID:        u.PID,
			CPUPercent: u.CPUPercent,
			MemoryMB:   u.MemoryMB,
			NumThreads: u.NumThreads,
			Goroutines: u.Goroutines,
		}
	}
	writeJSON(c, http.StatusOK, h)
}

// NodeView converts a stored node to its API representation.
func NodeView(n *statistics.Node) client.Node {
	out := client.Node{Name: n.Name, Records: make([]client.Record, 0, len(n.Records))}
	for _, rec := range n.Records {
		doc, _ := document.XML{}.Encode(rec.Element())
		out.Records = append(out.Records, client.Record{
			State:    rec.State(),
			Clean:    rec.Clean(),
			Time:     rec.RawTime(),
			Document: string(doc),
		})
	}
	return out
}
