package logger

import (
	"fmt"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings, lumberjack units.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// AppConfig describes where a launched application's stdout and stderr go.
// If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// An empty AppConfig sends both streams to the null device.
type AppConfig struct {
	Dir        string `json:"dir,omitempty" mapstructure:"dir"`
	StdoutPath string `json:"stdout,omitempty" mapstructure:"stdout"`
	StderrPath string `json:"stderr,omitempty" mapstructure:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups,omitempty" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days,omitempty" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress,omitempty" mapstructure:"compress"`
}

// Enabled reports whether any log destination is configured.
func (c AppConfig) Enabled() bool {
	return c.Dir != "" || c.StdoutPath != "" || c.StderrPath != ""
}

// Paths resolves the stdout and stderr file paths for an application name.
func (c AppConfig) Paths(name string) (stdout, stderr string) {
	stdout, stderr = c.StdoutPath, c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	return stdout, stderr
}

// Open rotates the previous run's log files and opens fresh ones for append.
// The returned files are meant to be handed straight to a child process so that
// output keeps flowing after the launcher exits; a nil file means the stream
// is not configured. When stdout and stderr resolve to the same path a single
// file is returned for both.
func (c AppConfig) Open(name string) (stdout, stderr *os.File, err error) {
	outPath, errPath := c.Paths(name)
	if outPath != "" {
		if stdout, err = c.openRotated(outPath); err != nil {
			return nil, nil, err
		}
	}
	if errPath != "" {
		if errPath == outPath {
			return stdout, stdout, nil
		}
		if stderr, err = c.openRotated(errPath); err != nil {
			if stdout != nil {
				_ = stdout.Close()
			}
			return nil, nil, err
		}
	}
	return stdout, stderr, nil
}

func (c AppConfig) openRotated(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		r := c.rotator(path)
		if err := r.Rotate(); err != nil {
			return nil, fmt.Errorf("rotate %s: %w", path, err)
		}
		_ = r.Close()
	}
	// #nosec G304 -- path comes from operator configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}

func (c AppConfig) rotator(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
