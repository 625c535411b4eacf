package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/runstats"
	"github.com/loykin/runstats/internal/document"
	"github.com/loykin/runstats/internal/server"
	"github.com/loykin/runstats/internal/statistics"
	"github.com/loykin/runstats/pkg/client"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, configPath string) error {
	cfg, err := runstats.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, closeLog := runstats.NewLogger(cfg)
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

// serve runs the API until ctx is done, then shuts the servers down and
// forces the final statistics write.
func serve(ctx context.Context, cfg *runstats.Config, log *slog.Logger) error {
	svc, err := runstats.NewService(cfg, log)
	if err != nil {
		return err
	}
	svc.Start()

	apiServer, err := svc.NewHTTPServer(cfg.Server.Listen)
	if err != nil {
		_ = svc.Close(context.Background())
		return err
	}
	log.Info("Starting runstats server",
		"listen", cfg.Server.Listen,
		"base_path", cfg.Server.BasePath,
		"tls", cfg.Server.TLS.Enabled,
		"statistics", cfg.Statistics.Path)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		metricsServer = runstats.NewMetricsServer(cfg.Metrics.Listen)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := apiServer.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown api server: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	if err := svc.Close(sctx); err != nil {
		errs = append(errs, fmt.Errorf("close statistics: %w", err))
	}
	return errors.Join(errs...)
}

func runValidate(out io.Writer, configPath string) error {
	cfg, err := runstats.LoadConfig(configPath)
	if err != nil {
		return err
	}
	sinks := "none"
	if len(cfg.History.Sinks) > 0 {
		sinks = fmt.Sprintf("%d", len(cfg.History.Sinks))
	}
	_, _ = fmt.Fprintf(out, "config OK: statistics=%s format=%s listen=%s%s sinks=%s\n",
		cfg.Statistics.Path, cfg.Codec().Name(), cfg.Server.Listen, cfg.Server.BasePath, sinks)
	return nil
}

func newAPIClient(f APIFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	switch {
	case f.Insecure:
		cfg = client.InsecureConfig()
	case f.CACert != "":
		// client.New only logs TLS setup failures, so a bad path is caught here
		if _, err := os.Stat(f.CACert); err != nil {
			return nil, fmt.Errorf("ca certificate: %w", err)
		}
		cfg = client.DefaultTLSConfig()
		cfg.TLS.CACert = f.CACert
	}
	cfg.BaseURL = f.APIUrl
	cfg.Timeout = f.APITimeout
	return client.New(cfg), nil
}

func runReport(ctx context.Context, out io.Writer, f ReportFlags) error {
	data, err := readInput(f.File)
	if err != nil {
		return err
	}
	codec, err := codecForFile(f.File, f.Format)
	if err != nil {
		return err
	}
	contentType := "application/xml"
	if codec.Name() == "yaml" {
		contentType = "application/yaml"
	}

	c, err := newAPIClient(f.APIFlags)
	if err != nil {
		return err
	}
	res, err := c.SubmitReport(ctx, f.Client, data, contentType)
	if err != nil {
		return fmt.Errorf("submit report: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s: %s (state=%s records=%d flushed=%t)\n",
		res.Client, res.Action, res.State, res.Records, res.Flushed)
	return nil
}

func runClients(ctx context.Context, out io.Writer, f APIFlags, name string) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if name != "" {
		n, err := c.Client(ctx, name)
		if err != nil {
			return err
		}
		return printJSON(out, n)
	}
	nodes, err := c.Clients(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, nodes)
}

func runFlush(ctx context.Context, out io.Writer, f FlushFlags) error {
	c, err := newAPIClient(f.APIFlags)
	if err != nil {
		return err
	}
	wrote, err := c.Flush(ctx, f.Force)
	if err != nil {
		return err
	}
	if wrote {
		_, _ = fmt.Fprintln(out, "statistics written")
	} else {
		_, _ = fmt.Fprintln(out, "nothing to write")
	}
	return nil
}

// readOnlyFS lets show open a store without ever replacing the file.
type readOnlyFS struct{ statistics.OSFileSystem }

func (readOnlyFS) WriteFile(path string, _ []byte) error {
	return fmt.Errorf("%s: read-only", path)
}

func runShow(out io.Writer, f ShowFlags) error {
	codec, err := codecForFile(f.File, f.Format)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(f.File)
	if err != nil {
		return err
	}
	if _, err := codec.Decode(data); err != nil {
		return fmt.Errorf("parse %s: %w", f.File, err)
	}
	store, err := runstats.OpenStore(f.File,
		statistics.WithCodec(codec),
		statistics.WithFileSystem(readOnlyFS{}),
		statistics.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return err
	}

	nodes := store.Nodes()
	if f.Client != "" {
		n, ok := store.Node(f.Client)
		if !ok {
			return fmt.Errorf("client %q not found in %s", f.Client, f.File)
		}
		nodes = []runstats.Node{n}
	}

	switch strings.ToLower(f.Output) {
	case "", "text":
		for _, n := range nodes {
			_, _ = fmt.Fprintf(out, "%s\n", n.Name)
			for _, r := range n.Records {
				_, _ = fmt.Fprintf(out, "  %-8s %s\n", r.State(), r.RawTime())
			}
		}
		if c := store.Conflicts(); len(c) > 0 {
			_, _ = fmt.Fprintf(out, "duplicate nodes: %s\n", strings.Join(c, ", "))
		}
		return nil
	case "json":
		views := make([]client.Node, 0, len(nodes))
		for i := range nodes {
			views = append(views, server.NodeView(&nodes[i]))
		}
		return printJSON(out, views)
	case "document":
		b, err := store.Serialize()
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	default:
		return fmt.Errorf("unsupported output %q (want text, json or document)", f.Output)
	}
}

// codecForFile picks the codec named by format, falling back to the file
// extension.
func codecForFile(path, format string) (document.Codec, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = "yaml"
		}
	}
	return document.CodecByName(format)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
