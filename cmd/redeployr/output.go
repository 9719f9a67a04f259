package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/internal/pipeline"
	"github.com/loykin/redeployr/pkg/client"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printResult(w io.Writer, r redeployr.Result, asJSON bool) error {
	if asJSON {
		return printJSON(w, r)
	}
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	if r.PreviousProcessKilled {
		_, _ = fmt.Fprintf(w, "%s pid %d on port %d\n", yellow("Stopped"), r.PreviousPID, r.Port)
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", green("Started"), r.Command)
	_, _ = fmt.Fprintf(w, "  PID:      %d\n", r.NewPID)
	_, _ = fmt.Fprintf(w, "  Port:     %d\n", r.Port)
	_, err := fmt.Fprintf(w, "  Started:  %s\n", r.StartedAt.Local().Format(timeLayout))
	return err
}

func printReport(w io.Writer, rep redeployr.Report, asJSON bool) error {
	if asJSON {
		return printJSON(w, rep)
	}
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	if rep.Checkout.Dir != "" {
		rev := rep.Checkout.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		_, _ = fmt.Fprintf(w, "Checkout: %s", rep.Checkout.Dir)
		if rev != "" {
			_, _ = fmt.Fprintf(w, " @ %s", rev)
		}
		if rep.Checkout.Cloned {
			_, _ = fmt.Fprint(w, " (cloned)")
		}
		_, _ = fmt.Fprintln(w)
	}
	for _, st := range rep.Install {
		status := green("ok")
		if st.Error != "" {
			status = red(st.Error)
		}
		_, _ = fmt.Fprintf(w, "Install:  %-12s %-8s %s\n", st.Name, st.Duration.Round(time.Millisecond), status)
	}
	if rep.Result != nil {
		if err := printResult(w, *rep.Result, false); err != nil {
			return err
		}
	}
	if rep.FailedStage != "" {
		_, _ = fmt.Fprintf(w, "%s at stage %s\n", red("Failed"), rep.FailedStage)
	}
	_, err := fmt.Fprintf(w, "Duration: %s\n", rep.Duration.Round(time.Millisecond))
	return err
}

func printStopped(w io.Writer, b redeployr.Binding, asJSON bool) error {
	if asJSON {
		return printJSON(w, b)
	}
	if !b.Bound() {
		_, err := fmt.Fprintf(w, "Port %d: nothing listening\n", b.Port)
		return err
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	_, err := fmt.Fprintf(w, "%s pid %d on port %d\n", yellow("Stopped"), b.PID, b.Port)
	return err
}

func printStatus(w io.Writer, rep statusReport, asJSON bool) error {
	if asJSON {
		return printJSON(w, rep)
	}
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	b := rep.Binding
	if b.Bound() {
		_, _ = fmt.Fprintf(w, "Port %d (%s)\n", b.Port, green("listening"))
		_, _ = fmt.Fprintf(w, "  PID:      %d\n", b.PID)
		if b.Process != "" {
			_, _ = fmt.Fprintf(w, "  Process:  %s\n", b.Process)
		}
		if b.Address != "" {
			_, _ = fmt.Fprintf(w, "  Address:  %s\n", b.Address)
		}
	} else {
		_, _ = fmt.Fprintf(w, "Port %d (%s)\n", b.Port, yellow("free"))
	}
	for _, c := range rep.Checks {
		state := green("alive")
		switch {
		case c.Error != "":
			state = red("error: " + c.Error)
		case !c.Alive:
			state = yellow("not alive")
		}
		_, _ = fmt.Fprintf(w, "  Check:    %s %s\n", c.Detector, state)
	}
	return nil
}

func printHistory(w io.Writer, events []client.Event, asJSON bool) error {
	if asJSON {
		return printJSON(w, events)
	}
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No deployment events found")
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	for _, e := range events {
		typ := fmt.Sprintf("%-8s", e.Type)
		switch e.Type {
		case "start":
			typ = green(typ)
		case "stop":
			typ = yellow(typ)
		case "failed":
			typ = red(typ)
		default:
			typ = cyan(typ)
		}
		r := e.Record
		_, _ = fmt.Fprintf(w, "%s  %s  port %-5d", e.OccurredAt.Local().Format(timeLayout), typ, r.Port)
		if r.PID > 0 {
			_, _ = fmt.Fprintf(w, "  pid %d", r.PID)
		}
		if r.PreviousPID > 0 {
			_, _ = fmt.Fprintf(w, "  previous %d", r.PreviousPID)
		}
		if r.Revision != "" {
			_, _ = fmt.Fprintf(w, "  rev %s", r.Revision)
		}
		if r.Command != "" {
			_, _ = fmt.Fprintf(w, "  %q", r.Command)
		}
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "  %s", red(r.Error))
		}
		_, _ = fmt.Fprintln(w)
	}
	return nil
}

// reportFailure prints err followed by the failed stage and the last known
// state: the PID still holding the port after a stop timeout, or the command
// that could not be started.
func reportFailure(w io.Writer, err error) {
	red := color.New(color.FgRed).SprintFunc()
	_, _ = fmt.Fprintf(w, "%s %v\n", red("Error:"), err)

	var se *pipeline.StageError
	if errors.As(err, &se) {
		_, _ = fmt.Fprintf(w, "  Stage:    %s\n", se.Stage)
	}

	var (
		kind, command string
		port, pid     int
	)
	var de *redeployr.Error
	var ae *client.APIError
	switch {
	case errors.As(err, &de):
		kind, port, pid, command = de.Kind.String(), de.Port, de.PID, de.Command
	case errors.As(err, &ae):
		kind, pid, command = ae.Kind, ae.PID, ae.Command
	default:
		return
	}
	if kind == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "  Kind:     %s\n", kind)
	if port > 0 {
		_, _ = fmt.Fprintf(w, "  Port:     %d\n", port)
	}
	switch kind {
	case redeployr.KindStopTimeout.String():
		if pid > 0 {
			_, _ = fmt.Fprintf(w, "  Old PID:  %d (still running)\n", pid)
		}
	case redeployr.KindSpawnFailed.String():
		if command != "" {
			_, _ = fmt.Fprintf(w, "  Command:  %s\n", command)
		}
	}
}
