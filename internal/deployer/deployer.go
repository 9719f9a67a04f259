package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/redeployr/internal/history"
	"github.com/loykin/redeployr/internal/metrics"
	"github.com/loykin/redeployr/internal/port"
	"github.com/loykin/redeployr/internal/process"
)

const (
	DefaultStopTimeout     = 10 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultMaxPollInterval = 500 * time.Millisecond
)

// Options tunes the stop phase of a restart.
type Options struct {
	StopTimeout      time.Duration  `json:"stop_timeout"`
	PollInterval     time.Duration  `json:"poll_interval"`
	MaxPollInterval  time.Duration  `json:"max_poll_interval"`
	Signal           syscall.Signal `json:"signal"`
	KillAfterTimeout bool           `json:"kill_after_timeout"`
}

func (o Options) withDefaults() Options {
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxPollInterval <= 0 {
		o.MaxPollInterval = DefaultMaxPollInterval
	}
	if o.MaxPollInterval < o.PollInterval {
		o.MaxPollInterval = o.PollInterval
	}
	if o.Signal == 0 {
		o.Signal = syscall.SIGTERM
	}
	return o
}

// MaxStopWait is the longest a restart may spend stopping the previous
// owner: one stop window, two with KillAfterTimeout.
func (o Options) MaxStopWait() time.Duration {
	o = o.withDefaults()
	if o.KillAfterTimeout {
		return 2 * o.StopTimeout
	}
	return o.StopTimeout
}

// Result describes a successful restart.
type Result struct {
	PreviousProcessKilled bool      `json:"previous_process_killed"`
	PreviousPID           int       `json:"previous_pid,omitempty"`
	NewPID                int       `json:"new_pid"`
	StartedAt             time.Time `json:"started_at"`
	Port                  int       `json:"port"`
	Command               string    `json:"command"`
}

// Signaler delivers a signal to a process.
type Signaler interface {
	Signal(pid int, sig syscall.Signal) error
}

// SignalFunc adapts a function to Signaler.
type SignalFunc func(pid int, sig syscall.Signal) error

func (f SignalFunc) Signal(pid int, sig syscall.Signal) error { return f(pid, sig) }

// Spawner launches a detached process.
type Spawner interface {
	Spawn(spec process.Spec) (process.Handle, error)
}

// Deployer stops whatever listens on a port and launches a replacement.
// The zero value is not usable; use New.
type Deployer struct {
	Finder   port.Finder
	Signaler Signaler
	Spawner  Spawner
	Sink     history.Sink
	Options  Options
	Logger   *slog.Logger
}

// New returns a Deployer backed by the OS socket table and real processes.
func New(opts Options, sink history.Sink, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = history.Nop{}
	}
	return &Deployer{
		Finder:   port.NewFinder(),
		Signaler: SignalFunc(process.Signal),
		Spawner:  process.Spawner{Logger: logger},
		Sink:     sink,
		Options:  opts,
		Logger:   logger,
	}
}

// Restart stops the process listening on p, if any, and launches spec
// detached. Nothing listening on p is the normal path, not an error. On
// StopTimeout the new process is not launched. Cancelling ctx abandons the
// wait for the port; a signal already sent stands.
func (d *Deployer) Restart(ctx context.Context, p int, spec process.Spec) (Result, error) {
	if err := validate(p, spec); err != nil {
		metrics.IncDeploy(p, metrics.ResultInvalid)
		return Result{}, err
	}
	log := d.logger().With("port", p)

	prev, err := d.Stop(ctx, p)
	if err != nil {
		d.record(ctx, history.EventFailed, history.Record{Port: p, PreviousPID: stalePID(err, prev), Command: spec.Command, Error: err.Error()})
		metrics.IncDeploy(p, resultLabel(err))
		return Result{}, err
	}

	h, err := d.Spawner.Spawn(spec)
	if err != nil {
		serr := &Error{Kind: KindSpawnFailed, Port: p, Command: spec.Command, Err: err}
		log.Error("launch failed", "command", spec.Command, "error", err)
		d.record(ctx, history.EventFailed, history.Record{Port: p, PreviousPID: prev.PID, Command: spec.Command, Error: serr.Error()})
		metrics.IncDeploy(p, metrics.ResultSpawnFailed)
		return Result{}, serr
	}
	log.Info("launched", "pid", h.PID, "command", spec.Command)
	d.record(ctx, history.EventStart, history.Record{Port: p, PID: h.PID, PreviousPID: prev.PID, Command: spec.Command})
	metrics.IncSpawn(p, float64(h.StartedAt.Unix()))
	metrics.IncDeploy(p, metrics.ResultSuccess)

	return Result{
		PreviousProcessKilled: prev.Bound(),
		PreviousPID:           prev.PID,
		NewPID:                h.PID,
		StartedAt:             h.StartedAt,
		Port:                  p,
		Command:               spec.Command,
	}, nil
}

// Stop terminates the process listening on p and waits for the port to be
// released. It returns the binding that was stopped, or a free binding when
// nothing was listening.
func (d *Deployer) Stop(ctx context.Context, p int) (port.Binding, error) {
	if err := port.Validate(p); err != nil {
		return port.Binding{Port: p}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	opts := d.Options.withDefaults()
	log := d.logger().With("port", p)

	owner, err := d.Finder.Owner(ctx, p)
	if err != nil {
		log.Error("port lookup failed", "error", err)
		return port.Binding{Port: p}, &Error{Kind: KindLookupFailed, Port: p, Err: err}
	}
	if !owner.Bound() {
		log.Info("no process listening")
		return owner, nil
	}

	log.Info("stopping previous process", "pid", owner.PID, "process", owner.Process, "signal", opts.Signal.String())
	if err := d.Signaler.Signal(owner.PID, opts.Signal); err != nil && process.Alive(owner.PID) {
		log.Error("signal failed", "pid", owner.PID, "error", err)
		return owner, &Error{Kind: KindStopTimeout, Port: p, PID: owner.PID, Err: fmt.Errorf("send %s: %w", opts.Signal, err)}
	}
	metrics.IncStop(p, opts.Signal.String())
	sent := time.Now()

	stale, err := d.waitFree(ctx, p, owner, opts)
	if errors.Is(err, errStillBound) && opts.KillAfterTimeout {
		log.Warn("port still bound, sending SIGKILL", "pid", stale.PID, "waited", opts.StopTimeout)
		if kerr := d.Signaler.Signal(stale.PID, syscall.SIGKILL); kerr != nil {
			log.Warn("kill failed", "pid", stale.PID, "error", kerr)
		}
		metrics.IncStop(p, syscall.SIGKILL.String())
		stale, err = d.waitFree(ctx, p, stale, opts)
	}
	switch {
	case err == nil:
	case errors.Is(err, errStillBound):
		log.Error("port not released", "pid", stale.PID, "timeout", opts.StopTimeout)
		return stale, &Error{Kind: KindStopTimeout, Port: p, PID: stale.PID,
			Err: fmt.Errorf("port still bound after %s", opts.StopTimeout)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return stale, err
	default:
		log.Error("port lookup failed while waiting", "error", err)
		return stale, &Error{Kind: KindLookupFailed, Port: p, PID: stale.PID, Err: err}
	}

	metrics.ObserveStopWait(p, time.Since(sent).Seconds())
	log.Info("port released", "pid", owner.PID, "waited", time.Since(sent).Round(time.Millisecond))
	d.record(ctx, history.EventStop, history.Record{Port: p, PreviousPID: owner.PID})
	return owner, nil
}

var errStillBound = errors.New("port still bound")

// waitFree polls the socket table with exponential backoff until p is free
// or opts.StopTimeout elapses. It returns the last binding observed on p.
// A listening socket without a visible owner counts as still bound: an
// exiting process can drop out of the fd scan before its socket closes.
func (d *Deployer) waitFree(ctx context.Context, p int, last port.Binding, opts Options) (port.Binding, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.PollInterval
	bo.MaxInterval = opts.MaxPollInterval
	bo.MaxElapsedTime = opts.StopTimeout
	bo.RandomizationFactor = 0.2

	op := func() error {
		b, err := d.Finder.Owner(ctx, p)
		switch {
		case errors.Is(err, port.ErrNoOwner):
			return errStillBound
		case err != nil:
			return backoff.Permanent(err)
		case b.Bound():
			last = b
			return errStillBound
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	return last, err
}

func (d *Deployer) record(ctx context.Context, typ history.EventType, rec history.Record) {
	if d.Sink == nil {
		return
	}
	// recorded even when ctx is already cancelled; send errors are only logged
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.Sink.Send(sctx, history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		d.logger().Warn("history send failed", "event", string(typ), "error", err)
	}
}

func (d *Deployer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func validate(p int, spec process.Spec) error {
	if err := port.Validate(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func stalePID(err error, b port.Binding) int {
	var de *Error
	if errors.As(err, &de) && de.PID > 0 {
		return de.PID
	}
	return b.PID
}

func resultLabel(err error) string {
	var de *Error
	if errors.As(err, &de) {
		switch de.Kind {
		case KindLookupFailed:
			return metrics.ResultLookupFailed
		case KindStopTimeout:
			return metrics.ResultStopTimeout
		case KindSpawnFailed:
			return metrics.ResultSpawnFailed
		}
	}
	if errors.Is(err, ErrInvalidInput) {
		return metrics.ResultInvalid
	}
	return metrics.ResultCanceled
}
