package client

import (
	"fmt"
	"time"
)

// DeployRequest is the body of POST /deploy.
type DeployRequest struct {
	Port    int      `json:"port"`
	Command string   `json:"command"`
	Name    string   `json:"name,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	PIDFile string   `json:"pid_file,omitempty"`
}

// DeployResult is the outcome of a successful remote restart.
type DeployResult struct {
	PreviousProcessKilled bool      `json:"previous_process_killed"`
	PreviousPID           int       `json:"previous_pid,omitempty"`
	NewPID                int       `json:"new_pid"`
	StartedAt             time.Time `json:"started_at"`
	Port                  int       `json:"port"`
	Command               string    `json:"command"`
}

// Binding is the current owner of a port. PID is zero for a free port.
type Binding struct {
	Port    int    `json:"port"`
	PID     int    `json:"pid"`
	Address string `json:"address,omitempty"`
	Process string `json:"process,omitempty"`
}

// Event is one deployment history entry.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     struct {
		Port        int    `json:"port"`
		PID         int    `json:"pid,omitempty"`
		PreviousPID int    `json:"previous_pid,omitempty"`
		Command     string `json:"command,omitempty"`
		Revision    string `json:"revision,omitempty"`
		Error       string `json:"error,omitempty"`
	} `json:"record"`
}

// APIError is a non-200 response. Kind is set for restart failures
// (LookupFailed, StopTimeout, SpawnFailed).
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Command string `json:"command,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// ExitCode maps the error kind to the CLI exit status.
func (e *APIError) ExitCode() int {
	switch e.Kind {
	case "LookupFailed":
		return 2
	case "StopTimeout":
		return 3
	case "SpawnFailed":
		return 4
	default:
		return 1
	}
}
