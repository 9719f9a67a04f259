package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// shell words that never name an executable on disk
var shellBuiltins = map[string]struct{}{
	".": {}, ":": {}, "alias": {}, "bg": {}, "cd": {}, "eval": {},
	"exit": {}, "export": {}, "fg": {}, "set": {}, "shift": {}, "source": {}, "trap": {},
	"ulimit": {}, "umask": {}, "unset": {}, "wait": {}, "if": {}, "for": {}, "while": {},
	"until": {}, "case": {}, "!": {}, "read": {}, "true": {}, "false": {}, "echo": {},
	"printf": {}, "test": {}, "[": {},
}

// CheckExecutable resolves the program a shell line would run first and
// reports an error when it cannot be found. Plain invocations are left to
// exec, which resolves them at start. Programs named through a variable or a
// substitution cannot be resolved statically and pass.
func (s Spec) CheckExecutable() error {
	if runtime.GOOS == "windows" {
		return nil
	}
	cmdStr := strings.TrimSpace(s.Command)
	script, ok := explicitShell(cmdStr)
	if !ok {
		if !strings.ContainsAny(cmdStr, shellMeta) {
			return nil
		}
		script = cmdStr
	}
	name := firstProgram(script)
	if name == "" {
		return nil
	}
	if _, err := s.lookPath(name); err != nil {
		return fmt.Errorf("resolve %q: %w", name, err)
	}
	return nil
}

// firstProgram returns the first word of script that names a program,
// skipping KEY=V assignments and wrappers such as exec or nohup. It returns ""
// when the word is a builtin or is built from expansions.
func firstProgram(script string) string {
	for _, w := range strings.Fields(script) {
		w = strings.TrimRight(w, ";&|")
		w = strings.Trim(w, `"'`)
		if w == "" {
			continue
		}
		if i := strings.IndexByte(w, '='); i > 0 && !strings.ContainsAny(w[:i], "/$") {
			continue
		}
		switch w {
		case "exec", "nohup", "command", "time", "env":
			continue
		}
		if _, ok := shellBuiltins[w]; ok {
			return ""
		}
		if strings.ContainsAny(w, "$`*?[~(){}<>") {
			return ""
		}
		return w
	}
	return ""
}

// lookPath resolves name like the launched shell would: relative paths
// against WorkDir, bare names against the PATH in Env when one is set.
func (s Spec) lookPath(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		if !filepath.IsAbs(name) && s.WorkDir != "" {
			name = filepath.Join(s.WorkDir, name)
		}
		return exec.LookPath(name)
	}
	path, ok := envValue(s.Env, "PATH")
	if !ok && s.Env == nil {
		path = os.Getenv("PATH")
	}
	if path == "" {
		// sh falls back to its built-in default search path
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		if !filepath.IsAbs(dir) && s.WorkDir != "" {
			dir = filepath.Join(s.WorkDir, dir)
		}
		if p, err := exec.LookPath(dir + string(filepath.Separator) + name); err == nil {
			return p, nil
		}
	}
	return "", exec.ErrNotFound
}

func envValue(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}
