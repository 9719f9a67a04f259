package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/redeployr"
)

// createServeCommand creates the serve subcommand
func createServeCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the restart HTTP API",
		Long: `Start an HTTP server exposing restarts to remote callers:

  POST {base}/deploy        restart an application
  GET  {base}/ports/:port   show the process listening on a port
  GET  {base}/history       recent deployment events
  GET  /metrics             Prometheus metrics

Restarts of the same port are serialized; a concurrent request gets 409.
Launched applications inherit the environment of the server plus the
[deploy] env and env_files of the config file.

Examples:
  redeployr serve --listen :8090
  redeployr serve --config redeployr.toml --history /var/lib/redeployr/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServe(ctx, cmd, s)
		},
	}
	cmd.Flags().String("listen", ":8090", "listen address")
	cmd.Flags().String("base", "/api", "base path of the API")
	cmd.Flags().String("history", "", "history DSN (sqlite path, postgres:// or clickhouse://)")
	addStopFlags(cmd)
	return cmd
}

// runServe blocks until ctx is done, then shuts the server down.
func runServe(ctx context.Context, cmd *cobra.Command, s *session) error {
	opts, err := s.cfg.Deploy.Options()
	if err != nil {
		return err
	}
	launchEnv, err := s.cfg.Deploy.LaunchEnv()
	if err != nil {
		return err
	}
	sink, err := s.historySink()
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()
	lister, _ := sink.(redeployr.HistoryLister)

	if err := redeployr.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	d := redeployr.New(opts, sink, s.log)
	server, err := redeployr.NewServer(d, redeployr.ServerOptions{
		Addr:      s.cfg.Server.Listen,
		BasePath:  s.cfg.Server.Base,
		LaunchEnv: launchEnv,
		Lister:    lister,
		TLS:       s.cfg.Server.TLS,
		Auth:      s.cfg.Server.Auth,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	scheme := "http"
	if s.cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving redeployr API on %s://%s%s\n", scheme, server.Addr, s.cfg.Server.Base)
	s.log.Info("server started", "addr", server.Addr, "base", s.cfg.Server.Base)
	if exposedWithoutAuth(server.Addr, s.cfg.Server.Auth.Enabled) {
		s.log.Warn("API authentication is disabled on a non-loopback address; any client reaching it can launch commands",
			"addr", server.Addr, "hint", "set [server.auth] or listen on 127.0.0.1")
	}

	<-ctx.Done()
	s.log.Info("shutting down server")
	// in-flight restarts may still be waiting on a stop window
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.MaxStopWait()+5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// exposedWithoutAuth reports whether addr accepts connections from other hosts
// while authentication is off.
func exposedWithoutAuth(addr string, authEnabled bool) bool {
	if authEnabled {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return true
	}
	if host == "localhost" {
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsLoopback()
}
