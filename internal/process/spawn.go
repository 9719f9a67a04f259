package process

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Handle identifies a launched process.
type Handle struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Spawner launches detached processes.
type Spawner struct {
	Logger *slog.Logger
}

// Spawn starts spec detached from the caller: a new session on Unix, a new
// process group without console on Windows. The child is not supervised; a
// background goroutine only reaps it so long-lived callers do not accumulate
// zombies. stdin is the null device; stdout/stderr go to the configured log
// files or the null device.
func (s Spawner) Spawn(spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return Handle{}, err
	}
	if err := spec.CheckExecutable(); err != nil {
		return Handle{}, err
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	if spec.Env != nil {
		// non-nil empty slice starts the child with no environment
		cmd.Env = spec.Env
	}
	detach(cmd)

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return Handle{}, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer func() { _ = null.Close() }()

	out, errOut, err := spec.Log.Open(spec.DisplayName())
	if err != nil {
		return Handle{}, err
	}
	defer func() {
		if out != nil {
			_ = out.Close()
		}
		if errOut != nil && errOut != out {
			_ = errOut.Close()
		}
	}()

	cmd.Stdin = null
	cmd.Stdout, cmd.Stderr = null, null
	if out != nil {
		cmd.Stdout = out
	}
	if errOut != nil {
		cmd.Stderr = errOut
	}

	if err := cmd.Start(); err != nil {
		return Handle{}, err
	}
	h := Handle{PID: cmd.Process.Pid, StartedAt: time.Now()}
	go func() { _ = cmd.Wait() }()

	if spec.PIDFile != "" {
		if err := WritePIDFile(spec.PIDFile, h.PID, StartUnix(h.PID)); err != nil {
			log.Warn("write pid file", "path", spec.PIDFile, "pid", h.PID, "error", err)
		}
	}
	return h, nil
}
