//go:build windows

package process

import (
	"errors"
	"strconv"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Signal terminates pid. Windows has no signal delivery, so every signal
// other than 0 ends the process.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("invalid pid " + strconv.Itoa(pid))
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	if sig == 0 {
		return nil
	}
	return p.Kill()
}

func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}
