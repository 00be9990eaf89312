package system

import (
	"context"
	"os/exec"
	"strings"
)

// GitRunner executes a git command in dir and returns its output.
type GitRunner func(ctx context.Context, dir string, args ...string) (string, error)

func defaultGitRunner(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}

// branch returns "" outside a repository (git exits 128), on a detached
// HEAD, or on any other git failure.
func branch(ctx context.Context, runner GitRunner, dir string) string {
	if runner == nil {
		runner = defaultGitRunner
	}
	if dir == "" {
		return ""
	}
	out, err := runner(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	b := strings.TrimSpace(out)
	if b == "HEAD" {
		return ""
	}
	return b
}
