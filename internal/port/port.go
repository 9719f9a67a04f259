package port

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	psnet "github.com/shirou/gopsutil/v4/net"
	psproc "github.com/shirou/gopsutil/v4/process"
)

// MinPort and MaxPort bound the valid TCP port range.
const (
	MinPort = 1
	MaxPort = 65535
)

// ErrNoOwner is returned when a LISTEN socket exists on the port but the
// socket table does not attribute it to any process. This is what a
// non-root caller sees for sockets owned by another user.
var ErrNoOwner = errors.New("listening socket has no visible owner")

// Binding is the association between a TCP port and the process listening on it.
// PID is zero when nothing listens on Port.
type Binding struct {
	Port    int    `json:"port"`
	PID     int    `json:"pid"`
	Address string `json:"address,omitempty"`
	Process string `json:"process,omitempty"`
}

// Bound reports whether a process owns the port.
func (b Binding) Bound() bool { return b.PID > 0 }

func (b Binding) String() string {
	if !b.Bound() {
		return fmt.Sprintf("port %d: free", b.Port)
	}
	if b.Process != "" {
		return fmt.Sprintf("port %d: pid %d (%s)", b.Port, b.PID, b.Process)
	}
	return fmt.Sprintf("port %d: pid %d", b.Port, b.PID)
}

// Finder locates the process listening on a TCP port.
// Implementations must be safe for concurrent use.
type Finder interface {
	Owner(ctx context.Context, port int) (Binding, error)
}

// Validate checks that p is inside the TCP port range.
func Validate(p int) error {
	if p < MinPort || p > MaxPort {
		return fmt.Errorf("invalid port %d: must be in %d-%d", p, MinPort, MaxPort)
	}
	return nil
}

// connLister is the gopsutil call used by SocketFinder; replaced in tests.
type connLister func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)

// SocketFinder reads the OS socket table through gopsutil.
type SocketFinder struct {
	list connLister
	// ResolveName controls whether the owning process name is looked up.
	ResolveName bool
}

// NewFinder returns a Finder backed by the OS socket table.
func NewFinder() *SocketFinder {
	return &SocketFinder{list: psnet.ConnectionsWithContext, ResolveName: true}
}

// Owner returns the listening owner of port. A free port is not an error:
// the returned Binding simply has PID 0.
func (f *SocketFinder) Owner(ctx context.Context, p int) (Binding, error) {
	if err := Validate(p); err != nil {
		return Binding{}, err
	}
	conns, err := f.list(ctx, "tcp")
	if err != nil {
		return Binding{}, fmt.Errorf("read socket table: %w", err)
	}
	b, anonymous := ownerFromConns(conns, p)
	if !b.Bound() {
		if anonymous {
			return Binding{Port: p}, fmt.Errorf("port %d: %w", p, ErrNoOwner)
		}
		return b, nil
	}
	if f.ResolveName {
		if proc, err := psproc.NewProcessWithContext(ctx, int32(b.PID)); err == nil {
			if name, err := proc.NameWithContext(ctx); err == nil {
				b.Process = name
			}
		}
	}
	return b, nil
}

// ownerFromConns picks the owner of p among LISTEN sockets. Several sockets may
// match (dual stack, pre-fork workers sharing the listener); the lowest PID wins
// since that is the parent in the pre-fork model. anonymous is true when a
// matching socket exists but none carries a PID.
func ownerFromConns(conns []psnet.ConnectionStat, p int) (b Binding, anonymous bool) {
	b.Port = p
	var matches []psnet.ConnectionStat
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != p {
			continue
		}
		if c.Pid <= 0 {
			anonymous = true
			continue
		}
		matches = append(matches, c)
	}
	if len(matches) == 0 {
		return b, anonymous
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Pid < matches[j].Pid })
	m := matches[0]
	b.PID = int(m.Pid)
	b.Address = m.Laddr.IP + ":" + strconv.Itoa(int(m.Laddr.Port))
	return b, false
}
