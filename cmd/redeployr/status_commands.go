package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/internal/detector"
	"github.com/loykin/redeployr/internal/port"
	"github.com/loykin/redeployr/internal/process"
	"github.com/loykin/redeployr/pkg/client"
)

// statusReport is what the status command prints.
type statusReport struct {
	Binding redeployr.Binding `json:"binding"`
	Checks  []detector.Check  `json:"checks,omitempty"`
}

// createStatusCommand creates the status subcommand
func createStatusCommand(g *GlobalFlags) *cobra.Command {
	var (
		api    APIFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which process listens on a port",
		Long: `Show the process listening on --port. With --pid-file the PID file
written at launch is checked as well, including whether its process is the
one holding the port.

Examples:
  redeployr status --port 5000
  redeployr status --port 5000 --pid-file /run/app.pid --json
  redeployr status --port 5000 --api-url http://host:8090/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.Close()
			p := s.cfg.Deploy.Port
			if err := port.Validate(p); err != nil {
				return fmt.Errorf("%w: %v", redeployr.ErrInvalidInput, err)
			}

			var rep statusReport
			if api.URL != "" {
				c, err := api.client(s.log)
				if err != nil {
					return err
				}
				b, err := c.Port(cmd.Context(), p)
				if err != nil {
					return err
				}
				rep.Binding = redeployr.Binding(b)
			} else {
				rep, err = localStatus(cmd.Context(), port.NewFinder(), p, s.cfg.Deploy.PIDFile)
				if err != nil {
					return err
				}
			}
			return printStatus(cmd.OutOrStdout(), rep, asJSON)
		},
	}
	cmd.Flags().Int("port", 0, "TCP port (required)")
	cmd.Flags().String("pid-file", "", "PID file written by deploy")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	addAPIFlags(cmd, &api)
	return cmd
}

func localStatus(ctx context.Context, f port.Finder, p int, pidFile string) (statusReport, error) {
	b, err := f.Owner(ctx, p)
	if err != nil {
		return statusReport{}, &redeployr.Error{Kind: redeployr.KindLookupFailed, Port: p, Err: err}
	}
	rep := statusReport{Binding: b}
	if pidFile == "" {
		return rep, nil
	}
	dets := []detector.Detector{detector.PIDFileDetector{PIDFile: pidFile}}
	if pid, _, err := process.ReadPIDFile(pidFile); err == nil {
		dets = append(dets, detector.PortDetector{Finder: f, Port: p, PID: pid})
	}
	rep.Checks = detector.Probe(dets...)
	return rep, nil
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(g *GlobalFlags) *cobra.Command {
	var (
		api    APIFlags
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent deployment events",
		Long: `List the most recent deployment events, newest first, from the history
backend given by --history (or [history] dsn in the config file).

Examples:
  redeployr history --history /var/lib/redeployr/history.db
  redeployr history --history postgres://user:pass@db/deploys --limit 50 --json
  redeployr history --api-url http://host:8090/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.Close()

			var events []client.Event
			if api.URL != "" {
				c, err := api.client(s.log)
				if err != nil {
					return err
				}
				if events, err = c.History(cmd.Context(), limit); err != nil {
					return err
				}
				return printHistory(cmd.OutOrStdout(), events, asJSON)
			}

			if s.cfg.History.DSN == "" {
				return errors.New("no history backend configured: set --history or [history] dsn")
			}
			sink, err := s.historySink()
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()
			lister, ok := sink.(redeployr.HistoryLister)
			if !ok {
				return fmt.Errorf("history backend %T cannot be listed", sink)
			}
			list, err := lister.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), toClientEvents(list), asJSON)
		},
	}
	cmd.Flags().String("history", "", "history DSN (sqlite path, postgres:// or clickhouse://)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the events as JSON")
	addAPIFlags(cmd, &api)
	return cmd
}

func toClientEvents(list []redeployr.HistoryEvent) []client.Event {
	out := make([]client.Event, 0, len(list))
	for _, e := range list {
		var ce client.Event
		ce.Type = string(e.Type)
		ce.OccurredAt = e.OccurredAt
		ce.Record.Port = e.Record.Port
		ce.Record.PID = e.Record.PID
		ce.Record.PreviousPID = e.Record.PreviousPID
		ce.Record.Command = e.Record.Command
		ce.Record.Revision = e.Record.Revision
		ce.Record.Error = e.Record.Error
		out = append(out, ce)
	}
	return out
}
