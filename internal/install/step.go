package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a step that does not set its own timeout.
const DefaultTimeout = 10 * time.Minute

// FailureMode defines how a failed step affects the run.
type FailureMode string

const (
	FailureModeFail   FailureMode = "fail"   // stop the run
	FailureModeIgnore FailureMode = "ignore" // log and continue
)

// Step is one dependency-install command.
type Step struct {
	Name        string        `json:"name" mapstructure:"name"`
	Command     string        `json:"command" mapstructure:"command"`
	WorkDir     string        `json:"work_dir,omitempty" mapstructure:"work_dir"` // relative to the source dir
	Env         []string      `json:"env,omitempty" mapstructure:"env"`
	Timeout     time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	FailureMode FailureMode   `json:"failure_mode,omitempty" mapstructure:"failure_mode"`
}

// Validate checks a single step.
func (s Step) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("install step name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("install step %q requires command", name)
	}
	switch s.FailureMode {
	case "", FailureModeFail, FailureModeIgnore:
	default:
		return fmt.Errorf("install step %q: invalid failure_mode %q, must be one of: fail, ignore", name, s.FailureMode)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("install step %q: timeout cannot be negative", name)
	}
	for i, kv := range s.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("install step %q: env[%d] %q is invalid, must be in KEY=VALUE format", name, i, kv)
		}
	}
	return nil
}

func (s Step) withDefaults() Step {
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.FailureMode == "" {
		s.FailureMode = FailureModeFail
	}
	return s
}

// Detect returns the install steps implied by the manifests found in dir.
// It is used when no steps are configured.
func Detect(dir string) []Step {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}
	var steps []Step
	if exists("requirements.txt") {
		steps = append(steps, Step{Name: "pip", Command: "pip install -r requirements.txt"})
	}
	if exists("package.json") {
		if exists("package-lock.json") {
			steps = append(steps, Step{Name: "npm", Command: "npm ci"})
		} else {
			steps = append(steps, Step{Name: "npm", Command: "npm install"})
		}
	}
	if exists("go.mod") {
		steps = append(steps, Step{Name: "go-mod", Command: "go mod download"})
	}
	return steps
}
