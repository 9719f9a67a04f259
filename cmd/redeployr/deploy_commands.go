package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/internal/config"
	"github.com/loykin/redeployr/internal/deployer"
	"github.com/loykin/redeployr/internal/metrics"
	"github.com/loykin/redeployr/pkg/client"
)

// addLaunchFlags registers the flags describing the application to launch.
// Their names match config.FlagKeys so they override the config file.
func addLaunchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "TCP port the application listens on (required)")
	cmd.Flags().String("command", "", "command line that starts the application (required)")
	cmd.Flags().String("name", "", "application name, used for log file names")
	cmd.Flags().String("work-dir", "", "working directory of the application")
	cmd.Flags().StringArray("env", nil, "extra environment entry KEY=VALUE (repeatable)")
	cmd.Flags().StringArray("env-file", nil, "load environment entries from a .env file (repeatable)")
	cmd.Flags().Bool("clean-env", false, "do not inherit the environment of redeployr")
	cmd.Flags().String("pid-file", "", "write the new PID to this file")
	cmd.Flags().String("log-dir", "", "directory for the application's stdout/stderr log files")
}

// addStopFlags registers the flags controlling the stop phase.
func addStopFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("stop-timeout", deployer.DefaultStopTimeout, "how long to wait for the port to be released")
	cmd.Flags().String("signal", "TERM", "signal sent to the previous process")
	cmd.Flags().Bool("kill-after-timeout", false, "send SIGKILL and wait once more when the stop window elapses")
}

func addOutputFlags(cmd *cobra.Command, asJSON *bool) {
	cmd.Flags().String("history", "", "history DSN (sqlite path, postgres:// or clickhouse://)")
	cmd.Flags().String("metrics-textfile", "", "write run metrics to this node exporter textfile")
	cmd.Flags().BoolVar(asJSON, "json", false, "print the result as JSON")
}

// createDeployCommand creates the deploy subcommand
func createDeployCommand(g *GlobalFlags) *cobra.Command {
	var (
		api    APIFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Restart the application listening on a port",
		Long: `Stop the process listening on --port, wait until the port is released
and launch --command detached. Nothing listening on the port is not an error:
the command is simply started.

Exit codes: 2 port lookup failed, 3 the previous process kept the port,
4 the new process could not be started.

Examples:
  redeployr deploy --port 5000 --command "python3 -m waitress --port=5000 app:app"
  redeployr deploy --port 8080 --command "./server" --work-dir /srv/app --env-file .env
  redeployr deploy --port 8080 --command "./server" --api-url http://host:8090/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if api.URL != "" {
				res, err := deployViaAPI(ctx, s, api)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res, asJSON)
			}
			res, err := deployLocal(ctx, s)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON)
		},
	}
	addLaunchFlags(cmd)
	addStopFlags(cmd)
	addOutputFlags(cmd, &asJSON)
	addAPIFlags(cmd, &api)
	return cmd
}

func deployLocal(ctx context.Context, s *session) (redeployr.Result, error) {
	spec, err := s.cfg.Deploy.Spec()
	if err != nil {
		return redeployr.Result{}, err
	}
	opts, err := s.cfg.Deploy.Options()
	if err != nil {
		return redeployr.Result{}, err
	}
	sink, err := s.historySink()
	if err != nil {
		return redeployr.Result{}, err
	}
	defer func() { _ = sink.Close() }()
	if err := s.startMetrics(); err != nil {
		return redeployr.Result{}, err
	}
	defer s.flushMetrics()

	return redeployr.New(opts, sink, s.log).Restart(ctx, s.cfg.Deploy.Port, spec)
}

func deployViaAPI(ctx context.Context, s *session, api APIFlags) (redeployr.Result, error) {
	var envs []string
	for _, f := range s.cfg.Deploy.EnvFiles {
		pairs, err := config.LoadEnvFile(f)
		if err != nil {
			return redeployr.Result{}, err
		}
		envs = append(envs, pairs...)
	}
	envs = append(envs, s.cfg.Deploy.Env...)

	c, err := api.client(s.log)
	if err != nil {
		return redeployr.Result{}, err
	}
	r, err := c.Deploy(ctx, client.DeployRequest{
		Port:    s.cfg.Deploy.Port,
		Command: s.cfg.Deploy.Command,
		Name:    s.cfg.Deploy.Name,
		WorkDir: s.cfg.Deploy.WorkDir,
		Env:     envs,
		PIDFile: s.cfg.Deploy.PIDFile,
	})
	if err != nil {
		return redeployr.Result{}, err
	}
	return redeployr.Result{
		PreviousProcessKilled: r.PreviousProcessKilled,
		PreviousPID:           r.PreviousPID,
		NewPID:                r.NewPID,
		StartedAt:             r.StartedAt,
		Port:                  r.Port,
		Command:               r.Command,
	}, nil
}

// createPipelineCommand creates the pipeline subcommand
func createPipelineCommand(g *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Check out, install dependencies and restart",
		Long: `Run the full deployment: update the source checkout, run the install
steps (configured, or detected from requirements.txt, package.json and go.mod)
and restart the application on its port.

Examples:
  redeployr pipeline --config redeployr.toml
  redeployr pipeline --repo https://example.com/app.git --branch main --dir /srv/app \
    --port 5000 --command "python3 app.py"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.cfg.Validate(); err != nil {
				return err
			}
			opts, err := s.cfg.Deploy.Options()
			if err != nil {
				return err
			}
			sink, err := s.historySink()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()
			if err := s.startMetrics(); err != nil {
				return err
			}
			defer s.flushMetrics()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			d := redeployr.New(opts, sink, s.log)
			rep, err := d.RunPipeline(ctx, s.cfg, cmd.ErrOrStderr())
			if perr := printReport(cmd.OutOrStdout(), rep, asJSON); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	cmd.Flags().String("repo", "", "git repository URL; empty uses --dir as is")
	cmd.Flags().String("branch", "", "branch to deploy (default: remote HEAD)")
	cmd.Flags().String("dir", "", "checkout directory")
	addLaunchFlags(cmd)
	addStopFlags(cmd)
	addOutputFlags(cmd, &asJSON)
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(g *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the process listening on a port",
		Long: `Signal the process listening on --port and wait until the port is
released. Nothing listening is not an error.

Examples:
  redeployr stop --port 5000
  redeployr stop --port 5000 --stop-timeout 30s --kill-after-timeout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.Close()
			opts, err := s.cfg.Deploy.Options()
			if err != nil {
				return err
			}
			sink, err := s.historySink()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			b, err := redeployr.New(opts, sink, s.log).Stop(ctx, s.cfg.Deploy.Port)
			if err != nil {
				return err
			}
			return printStopped(cmd.OutOrStdout(), b, asJSON)
		},
	}
	cmd.Flags().Int("port", 0, "TCP port (required)")
	cmd.Flags().String("history", "", "history DSN (sqlite path, postgres:// or clickhouse://)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stopped binding as JSON")
	addStopFlags(cmd)
	return cmd
}

func (s *session) startMetrics() error {
	if s.cfg.Metrics.Textfile == "" {
		return nil
	}
	return redeployr.RegisterMetricsDefault()
}

func (s *session) flushMetrics() {
	if err := metrics.WriteTextfile(s.cfg.Metrics.Textfile, prometheus.DefaultGatherer); err != nil {
		s.log.Warn("metrics textfile not written", "path", s.cfg.Metrics.Textfile, "error", err)
	}
}
