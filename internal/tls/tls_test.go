package tls

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/runstats/pkg/client"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"disabled", Config{CertFile: "only-cert"}, true},
		{"files", Config{Enabled: true, CertFile: "c", KeyFile: "k"}, true},
		{"dir", Config{Enabled: true, Dir: "/tmp/x", AutoGenerate: true}, true},
		{"cert without key", Config{Enabled: true, CertFile: "c"}, false},
		{"nothing", Config{Enabled: true}, false},
		{"bad version", Config{Enabled: true, Dir: "d", MinVersion: "1.0"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestResolveTLSVersions(t *testing.T) {
	min, max := resolveTLSVersions(Config{})
	assert.Equal(t, uint16(tls.VersionTLS13), min)
	assert.Equal(t, uint16(tls.VersionTLS13), max)

	min, max = resolveTLSVersions(Config{MinVersion: "1.2"})
	assert.Equal(t, uint16(tls.VersionTLS12), min)
	assert.Equal(t, uint16(tls.VersionTLS13), max)

	min, max = resolveTLSVersions(Config{MinVersion: "TLS1.3", MaxVersion: "1.2"})
	assert.Equal(t, uint16(tls.VersionTLS13), min)
	assert.Equal(t, uint16(tls.VersionTLS13), max)
}

func TestSetupMissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Setup(Config{Enabled: true, Dir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load certificate")
}

func TestAutoGenerateAndServe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	tcfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	require.NotNil(t, tcfg)
	for _, f := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, f)
	}
	info, err := os.Stat(filepath.Join(dir, tlsKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// existing files are reused
	before, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	_, err = Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	after, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	assert.Equal(t, before, after)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","store":{"path":"s.xml","format":"xml","clients":0}}`))
	})}
	go func() { _ = srv.Serve(tls.NewListener(ln, tcfg)) }()
	defer func() { _ = srv.Close() }()
	url := "https://" + ln.Addr().String()

	c := client.New(client.Config{
		BaseURL: url,
		TLS:     &client.TLSClientConfig{Enabled: true, CACert: filepath.Join(dir, tlsCaCrt)},
	})
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	// an untrusting client fails the handshake
	plain := client.New(client.Config{BaseURL: url})
	_, err = plain.Health(context.Background())
	assert.Error(t, err)
}
