package redeployr

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/redeployr/internal/auth"
	cfg "github.com/loykin/redeployr/internal/config"
	"github.com/loykin/redeployr/internal/deployer"
	"github.com/loykin/redeployr/internal/history"
	"github.com/loykin/redeployr/internal/history/factory"
	"github.com/loykin/redeployr/internal/install"
	"github.com/loykin/redeployr/internal/metrics"
	"github.com/loykin/redeployr/internal/pipeline"
	"github.com/loykin/redeployr/internal/port"
	"github.com/loykin/redeployr/internal/process"
	iapi "github.com/loykin/redeployr/internal/server"
	"github.com/loykin/redeployr/internal/source"
	itls "github.com/loykin/redeployr/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Result = deployer.Result

type Options = deployer.Options

type Binding = port.Binding

type Error = deployer.Error

type Kind = deployer.Kind

type HistorySink = history.Sink

type HistoryEvent = history.Event

type HistoryLister = history.Lister

type Report = pipeline.Report

type Config = cfg.FileConfig

type TLSConfig = itls.Config

type AuthConfig = auth.Config

const (
	KindLookupFailed = deployer.KindLookupFailed
	KindStopTimeout  = deployer.KindStopTimeout
	KindSpawnFailed  = deployer.KindSpawnFailed
)

var (
	ErrLookupFailed = deployer.ErrLookupFailed
	ErrStopTimeout  = deployer.ErrStopTimeout
	ErrSpawnFailed  = deployer.ErrSpawnFailed
	ErrInvalidInput = deployer.ErrInvalidInput
)

// Deployer is a thin facade over internal/deployer.Deployer.
type Deployer struct{ inner *deployer.Deployer }

// New returns a Deployer working on the local OS. sink and logger may be nil.
func New(opts Options, sink HistorySink, logger *slog.Logger) *Deployer {
	return &Deployer{inner: deployer.New(opts, sink, logger)}
}

// Restart stops whatever listens on port and launches spec detached.
func (d *Deployer) Restart(ctx context.Context, port int, spec Spec) (Result, error) {
	return d.inner.Restart(ctx, port, spec)
}

// Stop stops whatever listens on port and waits for the port to be released.
func (d *Deployer) Stop(ctx context.Context, port int) (Binding, error) {
	return d.inner.Stop(ctx, port)
}

// Owner reports the process listening on port.
func (d *Deployer) Owner(ctx context.Context, port int) (Binding, error) {
	return d.inner.Finder.Owner(ctx, port)
}

// Restart is a one-shot restart with default options.
func Restart(ctx context.Context, port int, command string) (Result, error) {
	return New(Options{}, nil, nil).Restart(ctx, port, Spec{Command: command})
}

// ExitCode maps an error from Restart or Stop to a process exit status.
func ExitCode(err error) int { return deployer.ExitCode(err) }

// LoadConfig reads a TOML pipeline file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path, nil) }

// RunPipeline runs checkout, install and restart as described by c. git and
// install step output goes to out when it is not nil.
func (d *Deployer) RunPipeline(ctx context.Context, c *Config, out io.Writer) (Report, error) {
	spec, err := c.Deploy.Spec()
	if err != nil {
		return Report{}, err
	}
	p := &pipeline.Pipeline{
		Fetcher:   source.Fetcher{Output: out, Logger: d.inner.Logger},
		Installer: install.Runner{Output: out, Logger: d.inner.Logger},
		Deployer:  d.inner,
		Sink:      d.inner.Sink,
		Logger:    d.inner.Logger,
	}
	return p.Run(ctx, pipeline.Config{
		Source:     c.Source,
		Install:    c.InstallSteps(),
		InstallEnv: spec.Env,
		Port:       c.Deploy.Port,
		Launch:     spec,
	})
}

// NewHistorySink opens the sink described by dsn; "" disables history.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer serves the restart API on addr.
// launchEnv is the base environment of launched applications.
func NewHTTPServer(addr, basePath string, d *Deployer, launchEnv []string, lister HistoryLister) (*http.Server, error) {
	return NewServer(d, ServerOptions{Addr: addr, BasePath: basePath, LaunchEnv: launchEnv, Lister: lister})
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	Addr      string
	BasePath  string
	LaunchEnv []string      // base environment of launched applications
	Lister    HistoryLister // nil disables GET /history
	TLS       TLSConfig
	Auth      AuthConfig
}

// NewServer serves the restart API with optional HTTPS and token auth.
func NewServer(d *Deployer, o ServerOptions) (*http.Server, error) {
	tc, err := itls.Setup(o.TLS)
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(o.Auth)
	if err != nil {
		return nil, err
	}
	r := iapi.NewRouter(d.inner, d.inner.Finder, iapi.Config{
		BasePath: o.BasePath,
		Env:      o.LaunchEnv,
		Lister:   o.Lister,
		Auth:     svc,
		Logger:   d.inner.Logger,
		StopWait: d.inner.Options.MaxStopWait(),
	})
	return iapi.NewTLSServer(o.Addr, r, tc)
}

// HashToken returns the bcrypt hash of an API token for [server.auth].
func HashToken(token string) (string, error) { return auth.HashToken(token) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
