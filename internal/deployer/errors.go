package deployer

import (
	"errors"
	"fmt"
)

// Kind classifies a failed restart.
type Kind int

const (
	KindLookupFailed Kind = iota + 1
	KindStopTimeout
	KindSpawnFailed
)

func (k Kind) String() string {
	switch k {
	case KindLookupFailed:
		return "LookupFailed"
	case KindStopTimeout:
		return "StopTimeout"
	case KindSpawnFailed:
		return "SpawnFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ExitCode is the process exit status the CLI uses for k.
func (k Kind) ExitCode() int {
	switch k {
	case KindLookupFailed:
		return 2
	case KindStopTimeout:
		return 3
	case KindSpawnFailed:
		return 4
	default:
		return 1
	}
}

// Error is returned by Restart and Stop. PID is the stale process on
// StopTimeout; Command is the attempted invocation on SpawnFailed.
type Error struct {
	Kind    Kind
	Port    int
	PID     int
	Command string
	Err     error
}

// Sentinels for errors.Is.
var (
	ErrLookupFailed = &Error{Kind: KindLookupFailed}
	ErrStopTimeout  = &Error{Kind: KindStopTimeout}
	ErrSpawnFailed  = &Error{Kind: KindSpawnFailed}
)

// ErrInvalidInput marks arguments rejected before any side effect.
var ErrInvalidInput = errors.New("invalid input")

func (e *Error) Error() string {
	switch e.Kind {
	case KindLookupFailed:
		return fmt.Sprintf("lookup owner of port %d: %v", e.Port, e.Err)
	case KindStopTimeout:
		return fmt.Sprintf("stop pid %d on port %d: %v", e.PID, e.Port, e.Err)
	case KindSpawnFailed:
		return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Port == 0 && t.PID == 0 && t.Command == "" && t.Kind == e.Kind
}

// ExitCode maps err to the CLI exit status: 0 for nil, the kind's code for
// *Error, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind.ExitCode()
	}
	return 1
}
