//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

func InGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
