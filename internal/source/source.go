package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Repo identifies the source to deploy. An empty URL means Dir already holds
// the source and is used as-is.
type Repo struct {
	URL    string `json:"url,omitempty" mapstructure:"url"`
	Branch string `json:"branch,omitempty" mapstructure:"branch"`
	Dir    string `json:"dir" mapstructure:"dir"`
}

// Checkout is the result of a fetch.
type Checkout struct {
	Dir      string `json:"dir"`
	Revision string `json:"revision,omitempty"`
	Cloned   bool   `json:"cloned"`
}

// Fetcher drives the git binary.
type Fetcher struct {
	Git    string    // git executable; "git" when empty
	Output io.Writer // receives git's progress output; discarded when nil
	Logger *slog.Logger
}

// Fetch clones r.URL into r.Dir, or when r.Dir exists fetches origin and
// hard-resets it to the remote branch.
func (f Fetcher) Fetch(ctx context.Context, r Repo) (Checkout, error) {
	if r.Dir == "" {
		return Checkout{}, errors.New("source dir is required")
	}
	log := f.logger().With("dir", r.Dir)
	co := Checkout{Dir: r.Dir}

	if r.URL == "" {
		st, err := os.Stat(r.Dir)
		if err != nil {
			return co, fmt.Errorf("source dir: %w", err)
		}
		if !st.IsDir() {
			return co, fmt.Errorf("source dir %s is not a directory", r.Dir)
		}
		co.Revision, _ = f.Revision(ctx, r.Dir)
		log.Info("using existing source", "revision", co.Revision)
		return co, nil
	}

	if _, err := os.Stat(r.Dir); os.IsNotExist(err) {
		log.Info("cloning repository", "url", r.URL, "branch", r.Branch)
		args := []string{"clone"}
		if r.Branch != "" {
			args = append(args, "-b", r.Branch)
		}
		args = append(args, r.URL, r.Dir)
		if err := f.run(ctx, "", args...); err != nil {
			return co, fmt.Errorf("failed to clone repository: %w", err)
		}
		co.Cloned = true
	} else {
		log.Info("updating repository", "branch", r.Branch)
		if err := f.run(ctx, r.Dir, "fetch", "origin"); err != nil {
			return co, fmt.Errorf("failed to fetch: %w", err)
		}
		ref := "origin/HEAD"
		if r.Branch != "" {
			ref = "origin/" + r.Branch
		}
		if err := f.run(ctx, r.Dir, "reset", "--hard", ref); err != nil {
			return co, fmt.Errorf("failed to reset: %w", err)
		}
	}

	rev, err := f.Revision(ctx, r.Dir)
	if err != nil {
		return co, err
	}
	co.Revision = rev
	return co, nil
}

// Revision returns the commit checked out in dir.
func (f Fetcher) Revision(ctx context.Context, dir string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, f.gitPath(), "rev-parse", "HEAD")
	cmd.Dir = dir
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to read revision: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

func (f Fetcher) run(ctx context.Context, dir string, args ...string) error {
	// #nosec G204 -- fixed git subcommands with operator supplied repo/branch
	cmd := exec.CommandContext(ctx, f.gitPath(), args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stdout = f.Output
	cmd.Stderr = &stderr
	if f.Output != nil {
		cmd.Stderr = io.MultiWriter(f.Output, &stderr)
	}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return err
	}
	return nil
}

func (f Fetcher) gitPath() string {
	if f.Git != "" {
		return f.Git
	}
	return "git"
}

func (f Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
