//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new session so it has no controlling terminal
// and is not part of the launcher's process group: signals aimed at the
// launcher (Ctrl-C, CI job abort) do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
