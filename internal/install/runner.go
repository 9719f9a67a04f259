package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/redeployr/internal/env"
	"github.com/loykin/redeployr/internal/process"
)

// StepResult reports one executed step.
type StepResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// StepError is returned when a step with FailureModeFail fails.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("install step %q: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Runner executes install steps sequentially in a source directory.
type Runner struct {
	Env    []string  // applied on top of the OS environment, before each step's Env
	Output io.Writer // receives step stdout/stderr; discarded when nil
	Logger *slog.Logger
}

// Run executes steps in order and stops at the first failing step whose
// failure mode is fail. Results are returned for every step that ran.
func (r Runner) Run(ctx context.Context, dir string, steps []Step) ([]StepResult, error) {
	for _, s := range steps {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		s = s.withDefaults()
		start := time.Now()
		log.Info("install step", "step", s.Name, "command", s.Command)
		err := r.runStep(ctx, dir, s)
		res := StepResult{Name: s.Name, Duration: time.Since(start)}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
		if err == nil {
			continue
		}
		if s.FailureMode == FailureModeIgnore && ctx.Err() == nil {
			log.Warn("install step failed, continuing", "step", s.Name, "error", err)
			continue
		}
		log.Error("install step failed", "step", s.Name, "error", err)
		return results, &StepError{Step: s.Name, Err: err}
	}
	return results, nil
}

func (r Runner) runStep(ctx context.Context, dir string, s Step) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	workDir := dir
	if s.WorkDir != "" {
		workDir = s.WorkDir
		if !filepath.IsAbs(workDir) {
			workDir = filepath.Join(dir, workDir)
		}
	}

	e := env.New()
	e.SetPairs(r.Env)
	cmd := process.Spec{Command: s.Command}.BuildCommand()
	cmd.Dir = workDir
	cmd.Env = e.Merge(s.Env)
	cmd.Stdout = r.Output
	cmd.Stderr = r.Output
	process.InGroup(cmd)

	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return exitError(err)
	case <-ctx.Done():
		_ = process.Signal(cmd.Process.Pid, syscall.SIGKILL)
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s", s.Timeout)
		}
		return ctx.Err()
	}
}

func exitError(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return fmt.Errorf("exit status %d", ee.ExitCode())
	}
	return err
}
