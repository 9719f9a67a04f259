package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsWithDirOnly(t *testing.T) {
	cfg := AppConfig{Dir: "/var/log/app"}
	out, errp := cfg.Paths("web")
	if out != filepath.Join("/var/log/app", "web.stdout.log") {
		t.Fatalf("stdout path: %q", out)
	}
	if errp != filepath.Join("/var/log/app", "web.stderr.log") {
		t.Fatalf("stderr path: %q", errp)
	}
}

func TestPathsExplicitOverrideDir(t *testing.T) {
	cfg := AppConfig{Dir: "/d", StdoutPath: "/x/out.log"}
	out, errp := cfg.Paths("web")
	if out != "/x/out.log" || errp != filepath.Join("/d", "web.stderr.log") {
		t.Fatalf("unexpected paths %q %q", out, errp)
	}
}

func TestOpenDisabled(t *testing.T) {
	var cfg AppConfig
	if cfg.Enabled() {
		t.Fatal("empty config must be disabled")
	}
	out, errf, err := cfg.Open("x")
	if err != nil || out != nil || errf != nil {
		t.Fatalf("expected nil files, got %v %v %v", out, errf, err)
	}
}

func TestOpenRotatesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	cfg := AppConfig{Dir: dir}

	out, errf, err := cfg.Open("app")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = out.WriteString("first run\n")
	_ = out.Close()
	_ = errf.Close()

	out, errf, err = cfg.Open("app")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer func() { _ = out.Close(); _ = errf.Close() }()

	b, err := os.ReadFile(filepath.Join(dir, "app.stdout.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("expected fresh stdout log after rotation, got %q", b)
	}
	entries, _ := os.ReadDir(dir)
	backups := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "app.stdout-") {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected one rotated backup, found %d in %v", backups, entries)
	}
}

func TestOpenSharedPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "combined.log")
	cfg := AppConfig{StdoutPath: p, StderrPath: p}
	out, errf, err := cfg.Open("x")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = out.Close() }()
	if out != errf {
		t.Fatal("expected a single shared file for identical paths")
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"", "info", "DEBUG", "warn", "warning", "error"} {
		if _, err := ParseLevel(s); err != nil {
			t.Fatalf("ParseLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWritesToStderrWriter(t *testing.T) {
	var buf bytes.Buffer
	l, c, err := New(Config{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = c.Close() }()
	l.Debug("restarting", "port", 5000)
	if !strings.Contains(buf.String(), "restarting") || !strings.Contains(buf.String(), "port=5000") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNewColorHandlerKeepsAttrs(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Config{Format: "color"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.With("stage", "install").Info("done")
	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "stage=install") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewFileUsesLumberjack(t *testing.T) {
	p := filepath.Join(t.TempDir(), "redeployr.log")
	l, c, err := New(Config{File: p, Format: "json"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hello")
	_ = c.Close()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"hello"`) {
		t.Fatalf("unexpected file content %q", b)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}
