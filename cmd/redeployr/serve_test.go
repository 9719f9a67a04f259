package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestServeShutsDownOnCancel(t *testing.T) {
	root := buildRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"serve", "--listen", "127.0.0.1:0", "--base", "/api", "--stop-timeout", "100ms"})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Contains(t, out.String(), "Serving redeployr API on http://127.0.0.1:")
	assert.NotContains(t, errOut.String(), "authentication is disabled")
}

func TestServeWarnsWhenExposedWithoutAuth(t *testing.T) {
	root := buildRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"--log-format", "text", "serve", "--listen", "0.0.0.0:0", "--stop-timeout", "100ms"})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	require.NoError(t, root.ExecuteContext(ctx))
	assert.Contains(t, errOut.String(), "API authentication is disabled on a non-loopback address")
}

func TestExposedWithoutAuth(t *testing.T) {
	cases := []struct {
		addr string
		auth bool
		want bool
	}{
		{":8090", false, true},
		{"0.0.0.0:8090", false, true},
		{"[::]:8090", false, true},
		{"10.1.2.3:8090", false, true},
		{"127.0.0.1:8090", false, false},
		{"[::1]:8090", false, false},
		{"localhost:8090", false, false},
		{":8090", true, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, exposedWithoutAuth(c.addr, c.auth), c.addr)
	}
}

func TestServeRejectsInvalidAddress(t *testing.T) {
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--listen", "256.0.0.1:1"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create HTTP server")
}

func TestServeTLSWithRemoteStatus(t *testing.T) {
	t.Setenv("REDEPLOYR_API_TOKEN", "")
	dir := t.TempDir()
	apiPort := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(apiPort)
	hash, err := bcrypt.GenerateFromPassword([]byte("serve-token-0123456789"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := "[server]\nlisten = \"" + addr + "\"\n" +
		"[server.tls]\nenabled = true\ndir = \"tls\"\nauto_generate = true\n" +
		"[server.auth]\nenabled = true\n[[server.auth.tokens]]\nname = \"ci\"\nhash = \"" + string(hash) + "\"\n"
	path := filepath.Join(dir, "redeployr.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--config", path})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = c.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	target := freePort(t)
	remote := []string{"status", "--port", strconv.Itoa(target), "--json",
		"--api-url", "https://" + addr + "/api", "--api-ca-cert", filepath.Join(dir, "tls", "tls.crt")}
	_, _, err = run(t, remote...)
	require.Error(t, err, "missing token must be rejected")

	out, _, err := run(t, append(remote, "--api-token", "serve-token-0123456789")...)
	require.NoError(t, err)
	var rep statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, target, rep.Binding.Port)
	assert.False(t, rep.Binding.Bound())
}
