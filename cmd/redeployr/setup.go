package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/internal/config"
	"github.com/loykin/redeployr/internal/logger"
	"github.com/loykin/redeployr/pkg/client"
)

// session is the per-invocation state: the merged configuration (file, then
// flags) and the logger built from it.
type session struct {
	cfg    *config.FileConfig
	log    *slog.Logger
	closer io.Closer
}

func newSession(cmd *cobra.Command, g *GlobalFlags) (*session, error) {
	fs := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
	fs.AddFlagSet(cmd.Flags())
	fs.AddFlagSet(cmd.InheritedFlags())
	fc, err := config.Load(g.ConfigPath, fs)
	if err != nil {
		return nil, err
	}
	log, closer, err := logger.New(fc.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return &session{cfg: fc, log: log, closer: closer}, nil
}

func (s *session) Close() { _ = s.closer.Close() }

// historySink opens the configured history backend; Nop when none is set.
func (s *session) historySink() (redeployr.HistorySink, error) {
	return redeployr.NewHistorySink(s.cfg.History.DSN)
}

// signalContext is canceled on SIGINT or SIGTERM. A restart interrupted
// during the stop window does not launch the new command.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// APIFlags selects a remote redeployr server instead of acting locally.
type APIFlags struct {
	URL      string
	Timeout  time.Duration
	Token    string
	CACert   string
	Insecure bool
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.URL, "api-url", "", "remote redeployr server URL (e.g. http://host:8090/api)")
	cmd.Flags().DurationVar(&f.Timeout, "api-timeout", 2*time.Minute, "request timeout")
	cmd.Flags().StringVar(&f.Token, "api-token", "", "bearer token for a server with auth enabled (default $REDEPLOYR_API_TOKEN)")
	cmd.Flags().StringVar(&f.CACert, "api-ca-cert", "", "CA certificate to verify an HTTPS server")
	cmd.Flags().BoolVar(&f.Insecure, "api-insecure", false, "skip TLS certificate verification")
}

func (f APIFlags) client(log *slog.Logger) (*client.Client, error) {
	token := f.Token
	if token == "" {
		token = os.Getenv("REDEPLOYR_API_TOKEN")
	}
	c := client.Config{BaseURL: f.URL, Timeout: f.Timeout, Logger: log, Token: token, Insecure: f.Insecure}
	if f.CACert != "" {
		c.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	return client.New(c)
}
