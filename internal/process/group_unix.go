//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// InGroup makes cmd lead a new process group, so Signal reaches its
// children too. Unlike Spawn the child keeps the caller's session.
func InGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
