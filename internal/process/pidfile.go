package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile records pid and its start time. The format is the PID on the
// first line followed by a JSON meta line, so plain `cat file` still works for
// shell tooling that expects a bare PID on line one.
func WritePIDFile(path string, pid int, startUnix int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, err := json.Marshal(pidMeta{StartUnix: startUnix})
	if err != nil {
		return err
	}
	data := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile returns the PID and the recorded start time (0 when absent).
// The meta line may sit on line two or, for files carrying an extra payload
// line, on line three.
func ReadPIDFile(path string) (pid int, startUnix int64, err error) {
	// #nosec G304 -- operator supplied path
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, 0, fmt.Errorf("invalid pid %d in %s", pid, path)
	}
	for _, l := range lines[1:min(len(lines), 3)] {
		var m pidMeta
		if json.Unmarshal([]byte(strings.TrimSpace(l)), &m) == nil && m.StartUnix > 0 {
			startUnix = m.StartUnix
		}
	}
	return pid, startUnix, nil
}
