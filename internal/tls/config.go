package tls

import "path/filepath"

// Config enables HTTPS for the restart API.
//
//	[server.tls]
//	enabled = true
//	dir = "/etc/redeployr/tls"   # tls.crt and tls.key
//	auto_generate = true         # self-signed pair when dir has none
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	Dir      string `mapstructure:"dir"`

	AutoGenerate bool     `mapstructure:"auto_generate"`
	CommonName   string   `mapstructure:"common_name"`
	Hosts        []string `mapstructure:"hosts"` // DNS names and IP addresses of a generated certificate
	ValidDays    int      `mapstructure:"valid_days"`

	MinVersion string `mapstructure:"min_version"` // "1.2" or "1.3" (default)
}

// paths returns the certificate and key files c points at.
func (c Config) paths() (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, certName), filepath.Join(c.Dir, keyName)
	}
	return "", ""
}
