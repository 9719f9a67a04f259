package detector

import (
	"fmt"
	"os"

	"github.com/loykin/redeployr/internal/process"
)

// PIDFileDetector detects a process through the PID file written at launch.
// When the file carries a start time and the live process started at a
// different time, the PID was recycled and the process counts as gone.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, recorded, err := process.ReadPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if recorded > 0 {
		if cur := process.StartUnix(pid); cur > 0 && cur != recorded {
			return false, nil
		}
	}
	return process.Alive(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return process.Alive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
