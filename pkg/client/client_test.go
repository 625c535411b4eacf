package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/runstats/internal/collector"
	"github.com/loykin/runstats/internal/server"
	"github.com/loykin/runstats/internal/statistics"
	"github.com/loykin/runstats/pkg/client"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startServer(t *testing.T) *client.Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "statistics.xml")
	require.NoError(t, os.WriteFile(path, []byte("<ConfigStatistics />\n"), 0o640))
	store, err := statistics.New(path, statistics.WithLogger(quietLogger()))
	require.NoError(t, err)
	col, err := collector.New(store, collector.WithLogger(quietLogger()), collector.WithFlushSchedule(""))
	require.NoError(t, err)

	ts := httptest.NewServer(server.NewRouter(col, "/api", server.WithLogger(quietLogger())).Handler())
	t.Cleanup(ts.Close)
	return client.New(client.Config{BaseURL: ts.URL + "/api", Logger: quietLogger()})
}

func TestNewDefaults(t *testing.T) {
	cfg := client.DefaultConfig()
	assert.Equal(t, "http://localhost:8080/api", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.NotNil(t, client.New(client.Config{}))
}

func TestSubmitAndRead(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	res, err := c.SubmitReport(ctx, "web1.example.com", []byte(`<Statistics state='clean'><Good/></Statistics>`), "")
	require.NoError(t, err)
	assert.Equal(t, "created", res.Action)
	assert.Equal(t, "web1.example.com", res.Client)

	res, err = c.SubmitReport(ctx, "web1.example.com", []byte("tag: Statistics\nattrs:\n  state: dirty\n"), "application/yaml")
	require.NoError(t, err)
	assert.Equal(t, "appended", res.Action)
	assert.Equal(t, 2, res.Records)

	n, err := c.Client(ctx, "web1.example.com")
	require.NoError(t, err)
	require.Len(t, n.Records, 2)
	assert.Equal(t, "dirty", n.Records[1].State)

	nodes, err := c.Clients(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Store.Clients)
	assert.True(t, c.IsReachable(ctx))
}

func TestClientNotFound(t *testing.T) {
	c := startServer(t)
	_, err := c.Client(context.Background(), "ghost")
	assert.True(t, errors.Is(err, client.ErrNotFound), "got %v", err)
}

func TestSubmitRejected(t *testing.T) {
	c := startServer(t)
	_, err := c.SubmitReport(context.Background(), "web1", []byte("<Report/>"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestFlush(t *testing.T) {
	c := startServer(t)
	wrote, err := c.Flush(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = c.Flush(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestNetworkErrors(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := client.New(client.Config{BaseURL: url, Timeout: time.Second, Logger: quietLogger()})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Clients(context.Background())
	assert.Error(t, err)
}

func TestNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := client.New(client.Config{BaseURL: ts.URL, Logger: quietLogger()})
	_, err := c.Flush(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, "HTTP 502", err.Error())
}
