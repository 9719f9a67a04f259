package process

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/loykin/redeployr/internal/logger"
)

// Spec describes an application launch.
type Spec struct {
	Name    string           `json:"name"`
	Command string           `json:"command"`            // executable invocation: path + arguments, or a shell line
	WorkDir string           `json:"work_dir,omitempty"` // optional working dir
	Env     []string         `json:"env,omitempty"`      // complete environment; nil inherits the caller's, empty means none
	PIDFile string           `json:"pid_file,omitempty"` // optional pidfile written after launch
	Log     logger.AppConfig `json:"log"`
}

// Validate checks the fields a launch cannot do without.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("command is required")
	}
	return nil
}

// DisplayName returns Name, or the executable's base name when Name is empty.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	f := strings.Fields(s.Command)
	if len(f) == 0 {
		return "app"
	}
	exe := f[0]
	if i := strings.LastIndexAny(exe, `/\`); i >= 0 {
		exe = exe[i+1:]
	}
	if exe == "" {
		return "app"
	}
	return exe
}

// shellMeta lists the characters that make a command a shell line.
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for s.Command.
// Plain invocations are split on whitespace and executed directly. A leading
// "sh -c '<script>'" is honored without adding another shell layer, and
// commands carrying shell metacharacters run under /bin/sh -c.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if script, ok := explicitShell(cmdStr); ok {
		// #nosec G204
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, shellMeta) {
		// #nosec G204
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204 -- operator supplied launch command
	return exec.Command(parts[0], parts[1:]...)
}

// explicitShell detects "sh -c <ARG>" style prefixes and returns ARG with one
// pair of surrounding quotes removed.
func explicitShell(cmdStr string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(cmdStr, p) {
			continue
		}
		after := strings.TrimSpace(cmdStr[len(p):])
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
