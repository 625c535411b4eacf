package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/runstats"
	itls "github.com/loykin/runstats/internal/tls"
	"github.com/loykin/runstats/pkg/client"
)

const statsFile = `<ConfigStatistics>
  <Node name='web1'>
    <Statistics state='clean' time='Mon Mar  4 10:00:00 2024'>
      <Good/>
    </Statistics>
    <Statistics state='dirty' time='Mon Mar  4 11:00:00 2024'>
      <Bad/>
    </Statistics>
  </Node>
  <Node name='db1'>
    <Statistics state='clean' time='Mon Mar  4 09:00:00 2024'/>
  </Node>
</ConfigStatistics>
`

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o640))
	return path
}

func testConfig(t *testing.T) *runstats.Config {
	t.Helper()
	cfg, err := runstats.DefaultConfig()
	require.NoError(t, err)
	cfg.Statistics.Path = filepath.Join(t.TempDir(), "statistics.xml")
	cfg.Statistics.FlushSchedule = ""
	cfg.Server.Listen = "127.0.0.1:0"
	return cfg
}

func TestBuildRoot(t *testing.T) {
	root := buildRoot()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "report", "show", "validate", "clients", "flush"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestValidateCommand(t *testing.T) {
	path := writeFile(t, "runstats.toml", "[statistics]\npath = \"/tmp/s.yaml\"\nformat = \"yaml\"\n[server]\nlisten = \":9000\"\n")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")
	assert.Contains(t, out, "format=yaml")
	assert.Contains(t, out, "listen=:9000/api")

	// --config is used when no argument is given
	out, err = execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "statistics=/tmp/s.yaml")

	bad := writeFile(t, "bad.toml", "[server]\nbase_path = \"api\"\n")
	_, err = execute(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_path")
}

func TestShowText(t *testing.T) {
	path := writeFile(t, "statistics.xml", statsFile)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	out, err := execute(t, "show", "--file", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "web1", lines[0])
	assert.Contains(t, lines[2], "dirty")
	assert.Equal(t, "db1", lines[3])

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "show must not rewrite the file")
}

func TestShowJSONClient(t *testing.T) {
	path := writeFile(t, "statistics.xml", statsFile)
	out, err := execute(t, "show", "--file", path, "--client", "web1", "--output", "json")
	require.NoError(t, err)

	var nodes []client.Node
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	require.Len(t, nodes, 1)
	require.Len(t, nodes[0].Records, 2)
	assert.True(t, nodes[0].Records[0].Clean)
	assert.Contains(t, nodes[0].Records[1].Document, "<Bad />")

	_, err = execute(t, "show", "--file", path, "--client", "ghost")
	assert.Error(t, err)
}

func TestShowDocumentAndYAML(t *testing.T) {
	path := writeFile(t, "statistics.xml", statsFile)
	out, err := execute(t, "show", "--file", path, "--output", "document")
	require.NoError(t, err)
	assert.Contains(t, out, "<Node name='web1'>")
	assert.Contains(t, out, "<Good />")
	assert.Less(t, strings.Index(out, "web1"), strings.Index(out, "db1"))

	ypath := writeFile(t, "statistics.yml", "tag: ConfigStatistics\nchildren:\n  - tag: Node\n    attrs:\n      name: y1\n")
	out, err = execute(t, "show", "--file", ypath)
	require.NoError(t, err)
	assert.Equal(t, "y1\n", out)
}

func TestShowErrors(t *testing.T) {
	_, err := execute(t, "show", "--file", filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)

	broken := writeFile(t, "statistics.xml", "<ConfigStatistics>")
	_, err = execute(t, "show", "--file", broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
	b, _ := os.ReadFile(broken)
	assert.Equal(t, "<ConfigStatistics>", string(b))

	good := writeFile(t, "statistics.xml", statsFile)
	_, err = execute(t, "show", "--file", good, "--output", "csv")
	assert.Error(t, err)
}

func TestRemoteCommands(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := runstats.NewService(testConfig(t), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)
	api := ts.URL + "/api"

	report := writeFile(t, "report.yaml", "tag: Report\nchildren:\n  - tag: Statistics\n    attrs:\n      state: clean\n")
	out, err := execute(t, "report", "--api-url", api, "--client", "web1", "--file", report)
	require.NoError(t, err)
	assert.Contains(t, out, "web1: created")

	out, err = execute(t, "clients", "--api-url", api)
	require.NoError(t, err)
	var nodes []client.Node
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "web1", nodes[0].Name)

	out, err = execute(t, "clients", "web1", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "clean"`)

	_, err = execute(t, "clients", "ghost", "--api-url", api)
	assert.ErrorIs(t, err, client.ErrNotFound)

	out, err = execute(t, "flush", "--api-url", api, "--force")
	require.NoError(t, err)
	assert.Equal(t, "statistics written\n", out)

	_, err = execute(t, "report", "--api-url", api, "--client", "web1")
	assert.Error(t, err, "--file is required")
}

func TestRemoteCommandsOverTLS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := runstats.NewService(testConfig(t), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	dir := filepath.Join(t.TempDir(), "tls")
	tcfg, err := itls.Setup(itls.Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: svc.Handler()}
	go func() { _ = srv.Serve(tls.NewListener(ln, tcfg)) }()
	t.Cleanup(func() { _ = srv.Close() })
	api := "https://" + ln.Addr().String() + "/api"

	_, err = execute(t, "clients", "--api-url", api)
	assert.Error(t, err, "self-signed certificate must not be trusted by default")

	out, err := execute(t, "clients", "--api-url", api, "--ca-cert", filepath.Join(dir, "tls_ca.crt"))
	require.NoError(t, err)
	var nodes []client.Node
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	assert.Empty(t, nodes)

	out, err = execute(t, "flush", "--api-url", api, "--insecure", "--force")
	require.NoError(t, err)
	assert.Equal(t, "statistics written\n", out)

	_, err = execute(t, "clients", "--api-url", api, "--ca-cert", filepath.Join(dir, "missing.crt"))
	assert.ErrorContains(t, err, "ca certificate")
}

func TestServeStopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, quietLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	b, err := os.ReadFile(cfg.Statistics.Path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ConfigStatistics")
}

func TestCodecForFile(t *testing.T) {
	c, err := codecForFile("a.yml", "")
	require.NoError(t, err)
	assert.Equal(t, "yaml", c.Name())
	c, err = codecForFile("a.yml", "xml")
	require.NoError(t, err)
	assert.Equal(t, "xml", c.Name())
	_, err = codecForFile("a.xml", "json")
	assert.Error(t, err)
}
