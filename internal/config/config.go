package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/redeployr/internal/auth"
	"github.com/loykin/redeployr/internal/deployer"
	"github.com/loykin/redeployr/internal/env"
	"github.com/loykin/redeployr/internal/install"
	"github.com/loykin/redeployr/internal/logger"
	"github.com/loykin/redeployr/internal/port"
	"github.com/loykin/redeployr/internal/process"
	"github.com/loykin/redeployr/internal/source"
	itls "github.com/loykin/redeployr/internal/tls"
)

// FileConfig represents the top-level TOML structure.
//
//	[source]
//	url = "https://example.com/app.git"
//	branch = "main"
//	dir = "/srv/app"
//
//	[[install]]
//	name = "pip"
//	command = "pip install -r requirements.txt"
//
//	[deploy]
//	port = 5000
//	command = "python3 -m waitress --port=5000 app:app"
//	stop_timeout = "10s"
//	  [deploy.log]
//	  dir = "/var/log/app"
type FileConfig struct {
	Source        source.Repo    `mapstructure:"source"`
	Install       []install.Step `mapstructure:"install"`
	DetectInstall bool           `mapstructure:"detect_install"`
	Deploy        DeployConfig   `mapstructure:"deploy"`
	Log           logger.Config  `mapstructure:"log"`
	History       HistoryConfig  `mapstructure:"history"`
	Metrics       MetricsConfig  `mapstructure:"metrics"`
	Server        ServerConfig   `mapstructure:"server"`
}

// DeployConfig describes the application launch and the stop phase.
type DeployConfig struct {
	Port     int      `mapstructure:"port"`
	Name     string   `mapstructure:"name"`
	Command  string   `mapstructure:"command"`
	WorkDir  string   `mapstructure:"work_dir"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	CleanEnv bool     `mapstructure:"clean_env"` // do not inherit the OS environment
	PIDFile  string   `mapstructure:"pid_file"`

	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxPollInterval  time.Duration `mapstructure:"max_poll_interval"`
	Signal           string        `mapstructure:"signal"`
	KillAfterTimeout bool          `mapstructure:"kill_after_timeout"`

	Log logger.AppConfig `mapstructure:"log"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // node exporter textfile written after one-shot runs
}

type ServerConfig struct {
	Listen string      `mapstructure:"listen"`
	Base   string      `mapstructure:"base"`
	TLS    itls.Config `mapstructure:"tls"`
	Auth   auth.Config `mapstructure:"auth"`
}

// FlagKeys maps config keys to the CLI flags that override them.
var FlagKeys = map[string]string{
	"source.url":                "repo",
	"source.branch":             "branch",
	"source.dir":                "dir",
	"deploy.port":               "port",
	"deploy.name":               "name",
	"deploy.command":            "command",
	"deploy.work_dir":           "work-dir",
	"deploy.env":                "env",
	"deploy.env_files":          "env-file",
	"deploy.clean_env":          "clean-env",
	"deploy.pid_file":           "pid-file",
	"deploy.stop_timeout":       "stop-timeout",
	"deploy.signal":             "signal",
	"deploy.kill_after_timeout": "kill-after-timeout",
	"deploy.log.dir":            "log-dir",
	"log.level":                 "log-level",
	"log.format":                "log-format",
	"log.file":                  "log-file",
	"history.dsn":               "history",
	"metrics.textfile":          "metrics-textfile",
	"server.listen":             "listen",
	"server.base":               "base",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detect_install", true)
	v.SetDefault("deploy.stop_timeout", deployer.DefaultStopTimeout)
	v.SetDefault("deploy.poll_interval", deployer.DefaultPollInterval)
	v.SetDefault("deploy.max_poll_interval", deployer.DefaultMaxPollInterval)
	v.SetDefault("deploy.signal", "TERM")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("server.listen", ":8090")
	v.SetDefault("server.base", "/api")
}

// Load reads the TOML file at path, when path is not empty, and applies the
// flags of fs that were set on the command line. Flags not present in fs are
// ignored.
func Load(path string, fs *pflag.FlagSet) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if fs != nil {
		if err := BindFlags(v, fs); err != nil {
			return nil, err
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		fc.resolvePaths(filepath.Dir(path))
	}
	return &fc, nil
}

// BindFlags binds every flag of fs named in FlagKeys to its config key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range FlagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// resolvePaths makes env file and TLS paths relative to the config file's
// directory.
func (fc *FileConfig) resolvePaths(base string) {
	rel := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	for i := range fc.Deploy.EnvFiles {
		rel(&fc.Deploy.EnvFiles[i])
	}
	rel(&fc.Server.TLS.CertFile)
	rel(&fc.Server.TLS.KeyFile)
	rel(&fc.Server.TLS.Dir)
}

// Validate checks the deploy section and the install steps.
func (fc *FileConfig) Validate() error {
	var errs []error
	if err := port.Validate(fc.Deploy.Port); err != nil {
		errs = append(errs, fmt.Errorf("deploy.port: %w", err))
	}
	if strings.TrimSpace(fc.Deploy.Command) == "" {
		errs = append(errs, errors.New("deploy.command is required"))
	}
	if _, err := process.ParseSignal(fc.Deploy.Signal); err != nil {
		errs = append(errs, fmt.Errorf("deploy.signal: %w", err))
	}
	for i, s := range fc.Install {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("install[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// InstallSteps returns the configured steps. nil asks the pipeline to detect
// steps from the checkout; an empty slice disables the install stage.
func (fc *FileConfig) InstallSteps() []install.Step {
	if len(fc.Install) > 0 {
		return fc.Install
	}
	if fc.DetectInstall {
		return nil
	}
	return []install.Step{}
}

// LaunchEnv composes the application environment: the OS environment unless
// CleanEnv, then env files in order, then Env entries.
func (d DeployConfig) LaunchEnv() ([]string, error) {
	e := env.New()
	if d.CleanEnv {
		e.Clean()
	}
	for _, f := range d.EnvFiles {
		pairs, err := LoadEnvFile(f)
		if err != nil {
			return nil, err
		}
		e.SetPairs(pairs)
	}
	return e.Merge(d.Env), nil
}

// Spec builds the launch spec.
func (d DeployConfig) Spec() (process.Spec, error) {
	envs, err := d.LaunchEnv()
	if err != nil {
		return process.Spec{}, err
	}
	return process.Spec{
		Name:    d.Name,
		Command: d.Command,
		WorkDir: d.WorkDir,
		Env:     envs,
		PIDFile: d.PIDFile,
		Log:     d.Log,
	}, nil
}

// Options builds the deployer options.
func (d DeployConfig) Options() (deployer.Options, error) {
	sig, err := process.ParseSignal(d.Signal)
	if err != nil {
		return deployer.Options{}, err
	}
	return deployer.Options{
		StopTimeout:      d.StopTimeout,
		PollInterval:     d.PollInterval,
		MaxPollInterval:  d.MaxPollInterval,
		Signal:           sig,
		KillAfterTimeout: d.KillAfterTimeout,
	}, nil
}

// LoadEnvFile parses a .env file and returns its "KEY=VALUE" entries in file
// order.
func LoadEnvFile(path string) ([]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k+"="+unquote(strings.TrimSpace(v)))
	}
	return out, nil
}

func unquote(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
			return v[1 : n-1]
		}
	}
	return v
}
