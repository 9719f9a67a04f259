package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/internal/process"
	"github.com/loykin/redeployr/pkg/client"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func killOnCleanup(t *testing.T, pid int) {
	t.Cleanup(func() {
		if p, err := os.FindProcess(pid); err == nil && pid > 0 {
			_ = p.Kill()
		}
	})
}

func TestDeployMissingCommand(t *testing.T) {
	_, _, err := run(t, "deploy", "--port", "5000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deploy.command is required")
	assert.Equal(t, 1, exitCode(err))
}

func TestDeployFreePortRecordsHistory(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	prom := filepath.Join(dir, "metrics", "redeployr.prom")
	p := freePort(t)

	out, _, err := run(t, "deploy", "--port", strconv.Itoa(p), "--command", "sleep 5",
		"--history", db, "--metrics-textfile", prom, "--json", "--log-format", "text")
	require.NoError(t, err)

	var res redeployr.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	killOnCleanup(t, res.NewPID)
	assert.False(t, res.PreviousProcessKilled)
	assert.Greater(t, res.NewPID, 0)
	assert.Equal(t, p, res.Port)
	assert.Equal(t, "sleep 5", res.Command)

	b, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(b), "redeployr_deploy_total")

	out, _, err = run(t, "history", "--history", db, "--json")
	require.NoError(t, err)
	var events []client.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, "start", events[0].Type)
	assert.Equal(t, res.NewPID, events[0].Record.PID)

	out, _, err = run(t, "history", "--history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "start")
	assert.Contains(t, out, strconv.Itoa(res.NewPID))
}

func TestDeploySpawnFailedExitCode(t *testing.T) {
	p := freePort(t)
	_, _, err := run(t, "deploy", "--port", strconv.Itoa(p), "--command", "/nonexistent/redeployr-cli-test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, redeployr.ErrSpawnFailed))
	assert.Equal(t, 4, exitCode(err))
}

func TestDeployViaAPIStopTimeout(t *testing.T) {
	var got client.DeployRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"error":"port still bound after 10s","kind":"StopTimeout","pid":4242}`))
	}))
	defer srv.Close()

	_, _, err := run(t, "deploy", "--port", "5000", "--command", "./server", "--env", "A=1",
		"--api-url", srv.URL+"/api")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
	assert.Equal(t, 5000, got.Port)
	assert.Equal(t, "./server", got.Command)
	assert.Equal(t, []string{"A=1"}, got.Env)

	var buf strings.Builder
	reportFailure(&buf, err)
	assert.Contains(t, buf.String(), "Old PID:  4242")
}

func TestStopFreePort(t *testing.T) {
	p := freePort(t)
	out, _, err := run(t, "stop", "--port", strconv.Itoa(p))
	require.NoError(t, err)
	assert.Contains(t, out, "nothing listening")
}

func TestStopInvalidPort(t *testing.T) {
	_, _, err := run(t, "stop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, redeployr.ErrInvalidInput))
	assert.Equal(t, 1, exitCode(err))
}

func TestStatusFreePortWithPIDFile(t *testing.T) {
	p := freePort(t)
	pidFile := filepath.Join(t.TempDir(), "app.pid")
	pid := os.Getpid()
	require.NoError(t, process.WritePIDFile(pidFile, pid, process.StartUnix(pid)))

	out, _, err := run(t, "status", "--port", strconv.Itoa(p), "--pid-file", pidFile, "--json")
	require.NoError(t, err)
	var rep statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, p, rep.Binding.Port)
	assert.False(t, rep.Binding.Bound())
	require.Len(t, rep.Checks, 2)
	assert.True(t, rep.Checks[0].Alive, "own pid file should be alive")
	assert.False(t, rep.Checks[1].Alive, "own pid does not listen on the port")

	out, _, err = run(t, "status", "--port", strconv.Itoa(p))
	require.NoError(t, err)
	assert.Contains(t, out, "free")
}

func TestStatusListeningPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	p := l.Addr().(*net.TCPAddr).Port

	out, _, err := run(t, "status", "--port", strconv.Itoa(p), "--json")
	if err != nil {
		t.Skipf("socket table not readable here: %v", err)
	}
	var rep statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, os.Getpid(), rep.Binding.PID)
}

func TestHistoryRequiresBackend(t *testing.T) {
	_, _, err := run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history backend")
}

func TestPipelineLocalDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p := freePort(t)

	out, _, err := run(t, "pipeline", "--dir", dir, "--port", strconv.Itoa(p), "--command", "sleep 5", "--json")
	require.NoError(t, err)
	var rep redeployr.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.NotNil(t, rep.Result)
	killOnCleanup(t, rep.Result.NewPID)
	assert.Equal(t, dir, rep.Checkout.Dir)
	assert.Empty(t, rep.Install)
	assert.Empty(t, rep.FailedStage)
}

func TestPipelineFromConfigFile(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p := freePort(t)
	cfg := "detect_install = false\n" +
		"[source]\ndir = \"" + dir + "\"\n" +
		"[[install]]\nname = \"prepare\"\ncommand = \"touch prepared\"\n" +
		"[deploy]\nport = " + strconv.Itoa(p) + "\ncommand = \"sleep 5\"\n"
	path := filepath.Join(dir, "redeployr.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	out, _, err := run(t, "pipeline", "--config", path)
	require.NoError(t, err)
	m := regexp.MustCompile(`PID:\s+(\d+)`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	pid, _ := strconv.Atoi(m[1])
	killOnCleanup(t, pid)
	assert.Contains(t, out, "prepare")
	assert.Contains(t, out, "Started")
	_, err = os.Stat(filepath.Join(dir, "prepared"))
	assert.NoError(t, err)
}
