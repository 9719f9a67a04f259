package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/redeployr/internal/port"
)

// PortDetector reports a process as alive while it listens on Port.
// With PID set, the listener must be that PID.
type PortDetector struct {
	Finder  port.Finder
	Port    int
	PID     int
	Timeout time.Duration
}

func (d PortDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	b, err := d.Finder.Owner(ctx, d.Port)
	if err != nil {
		return false, err
	}
	if d.PID > 0 {
		return b.PID == d.PID, nil
	}
	return b.Bound(), nil
}

func (d PortDetector) Describe() string {
	if d.PID > 0 {
		return fmt.Sprintf("port:%d/pid:%d", d.Port, d.PID)
	}
	return fmt.Sprintf("port:%d", d.Port)
}
