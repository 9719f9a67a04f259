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
	certName = "tls.crt"
	keyName  = "tls.key"
)

// parseMinVersion maps a version name to its crypto/tls constant.
func parseMinVersion(v string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min_version %q", v)
	}
}

// Setup returns the server TLS configuration, or nil when c is disabled.
// Explicit cert/key files take precedence over Dir. With AutoGenerate a
// self-signed pair is written to Dir when it holds none.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseMinVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := c.paths()
	if certPath == "" {
		return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
	}
	if c.AutoGenerate && c.CertFile == "" && !certificatesExist(certPath, keyPath) {
		if err := generate(c, certPath, keyPath); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 min version is configurable down to 1.2 only
	return &tls.Config{
		GetCertificate: certificateLoader(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

// certificateLoader rereads the pair on every handshake so renewed
// certificates are picked up without a restart.
func certificateLoader(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := os.ReadFile(filepath.Clean(certPath))
		if err != nil {
			return nil, err
		}
		keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		return &cert, err
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(c Config, certPath, keyPath string) error {
	cn := c.CommonName
	if cn == "" {
		cn = "localhost"
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cn,
		Organization: "redeployr",
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}
