package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config describes how the report API serves HTTPS. Either CertFile and
// KeyFile, or Dir (optionally with AutoGenerate) must be set when Enabled.
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string   `toml:"max_version" mapstructure:"max_version"`
}

// Validate reports configuration errors without touching the filesystem.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("tls: cert_file and key_file must be set together"))
	}
	if c.CertFile == "" && c.Dir == "" {
		errs = append(errs, errors.New("tls: enabled but neither cert_file/key_file nor dir is set"))
	}
	if _, _, ok := parseTLSVersion(c.MinVersion); !ok {
		errs = append(errs, fmt.Errorf("tls: unsupported min_version %q", c.MinVersion))
	}
	if _, _, ok := parseTLSVersion(c.MaxVersion); !ok {
		errs = append(errs, fmt.Errorf("tls: unsupported max_version %q", c.MaxVersion))
	}
	return errors.Join(errs...)
}

// parseTLSVersion maps a version string to its constant. set is false for
// the empty/default value.
func parseTLSVersion(ver string) (v uint16, set bool, ok bool) {
	switch strings.ToLower(ver) {
	case "", "default":
		return tls.VersionTLS13, false, true
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true, true
	default:
		return 0, false, false
	}
}

// resolveTLSVersions defaults both bounds to TLS 1.3. A min_version of 1.2
// with no max_version allows 1.2 through 1.3.
func resolveTLSVersions(c Config) (min uint16, max uint16) {
	min, max = tls.VersionTLS13, tls.VersionTLS13
	if v, set, ok := parseTLSVersion(c.MinVersion); ok && set {
		min = v
	}
	if v, set, ok := parseTLSVersion(c.MaxVersion); ok && set {
		max = v
	}
	if max < min {
		max = min
	}
	return
}

// getCertificationFunc loads the key pair on every handshake so rotated
// certificates are picked up without a restart.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup builds the server TLS configuration. It returns nil when TLS is
// disabled. With Dir and AutoGenerate a self-signed pair is created on
// first use.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	minVer, maxVer := resolveTLSVersions(c)

	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" {
		certPath = filepath.Join(c.Dir, tlsCrt)
		keyPath = filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(c, c.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	// #nosec G402 min version is configurable down to TLS 1.2 only
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func getOrDefaultSlice(value, defaultValue []string) []string {
	if len(value) == 0 {
		return defaultValue
	}
	return value
}

func generateCertificate(c Config, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	validDays := c.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   getOrDefault(c.CommonName, "localhost"),
		Organization: "runstats",
		DNSNames:     getOrDefaultSlice(c.DNSNames, []string{"localhost"}),
		IPAddresses:  getOrDefaultSlice(c.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	})
}
