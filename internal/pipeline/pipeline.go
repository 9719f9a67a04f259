package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/redeployr/internal/deployer"
	"github.com/loykin/redeployr/internal/history"
	"github.com/loykin/redeployr/internal/install"
	"github.com/loykin/redeployr/internal/metrics"
	"github.com/loykin/redeployr/internal/process"
	"github.com/loykin/redeployr/internal/source"
)

// Stage names a pipeline step.
type Stage string

const (
	StageCheckout Stage = "checkout"
	StageInstall  Stage = "install"
	StageRestart  Stage = "restart"
)

// Config is one pipeline run.
type Config struct {
	Source source.Repo
	// Install steps; when nil the steps are detected from the checkout.
	// An empty non-nil slice disables the stage.
	Install []install.Step
	// InstallEnv is applied to every install step beneath the step's own Env.
	InstallEnv []string
	Port       int
	// Launch is started in the checkout directory unless it sets WorkDir.
	Launch process.Spec
}

// Report summarizes a run. FailedStage is empty on success.
type Report struct {
	Checkout    source.Checkout      `json:"checkout"`
	Install     []install.StepResult `json:"install,omitempty"`
	Result      *deployer.Result     `json:"result,omitempty"`
	FailedStage Stage                `json:"failed_stage,omitempty"`
	Error       string               `json:"error,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

// StageError wraps the error of the stage that stopped the run. Restart
// errors keep their deployer kind through Unwrap.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

type Fetcher interface {
	Fetch(ctx context.Context, r source.Repo) (source.Checkout, error)
}

type Installer interface {
	Run(ctx context.Context, dir string, steps []install.Step) ([]install.StepResult, error)
}

type Restarter interface {
	Restart(ctx context.Context, port int, spec process.Spec) (deployer.Result, error)
}

// Pipeline sequences checkout, install and restart.
type Pipeline struct {
	Fetcher   Fetcher
	Installer Installer
	Deployer  Restarter
	Sink      history.Sink
	Logger    *slog.Logger
}

// Run executes the stages in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context, cfg Config) (Report, error) {
	start := time.Now()
	log := p.logger().With("port", cfg.Port)
	var rep Report

	fail := func(stage Stage, err error) (Report, error) {
		rep.FailedStage = stage
		rep.Error = err.Error()
		rep.Duration = time.Since(start)
		if stage != StageRestart {
			// restart failures are recorded by the deployer
			p.record(ctx, history.EventFailed, history.Record{Port: cfg.Port, Revision: rep.Checkout.Revision, Command: cfg.Launch.Command, Error: fmt.Sprintf("%s: %v", stage, err)})
		}
		log.Error("pipeline failed", "stage", string(stage), "error", err)
		return rep, &StageError{Stage: stage, Err: err}
	}

	// checkout
	t0 := time.Now()
	co, err := p.Fetcher.Fetch(ctx, cfg.Source)
	observe(StageCheckout, t0, err)
	if err != nil {
		return fail(StageCheckout, err)
	}
	rep.Checkout = co
	log.Info("checkout done", "dir", co.Dir, "revision", co.Revision, "cloned", co.Cloned)
	p.record(ctx, history.EventCheckout, history.Record{Port: cfg.Port, Revision: co.Revision})

	// install
	steps := cfg.Install
	if steps == nil {
		steps = install.Detect(co.Dir)
		if len(steps) > 0 {
			log.Info("detected install steps", "count", len(steps))
		}
	}
	if len(steps) > 0 {
		steps = withEnv(steps, cfg.InstallEnv)
		t0 = time.Now()
		res, err := p.Installer.Run(ctx, co.Dir, steps)
		rep.Install = res
		observe(StageInstall, t0, err)
		if err != nil {
			return fail(StageInstall, err)
		}
		p.record(ctx, history.EventInstall, history.Record{Port: cfg.Port, Revision: co.Revision})
	}

	// restart
	spec := cfg.Launch
	if spec.WorkDir == "" {
		spec.WorkDir = co.Dir
	}
	t0 = time.Now()
	res, err := p.Deployer.Restart(ctx, cfg.Port, spec)
	observe(StageRestart, t0, err)
	if err != nil {
		return fail(StageRestart, err)
	}
	rep.Result = &res
	rep.Duration = time.Since(start)
	log.Info("pipeline done", "pid", res.NewPID, "previous_pid", res.PreviousPID, "revision", co.Revision, "duration", rep.Duration.Round(time.Millisecond))
	return rep, nil
}

// withEnv returns copies of steps with base placed before each step's Env.
func withEnv(steps []install.Step, base []string) []install.Step {
	if len(base) == 0 {
		return steps
	}
	out := make([]install.Step, len(steps))
	for i, s := range steps {
		s.Env = append(append([]string(nil), base...), s.Env...)
		out[i] = s
	}
	return out
}

func (p *Pipeline) record(ctx context.Context, typ history.EventType, rec history.Record) {
	if p.Sink == nil {
		return
	}
	if err := p.Sink.Send(context.WithoutCancel(ctx), history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		p.logger().Warn("history send failed", "event", string(typ), "error", err)
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func observe(stage Stage, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = "failed"
		var de *deployer.Error
		if errors.As(err, &de) {
			result = de.Kind.String()
		}
	}
	metrics.ObserveStage(string(stage), result, time.Since(start).Seconds())
}
