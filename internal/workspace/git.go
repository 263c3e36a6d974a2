package workspace

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// gitTimeout bounds each git invocation.
const gitTimeout = 2 * time.Second

// detectGit returns nil when dir is not inside a git work tree.
func detectGit(ctx context.Context, dir string) *GitInfo {
	root, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil || root == "" {
		return nil
	}

	info := &GitInfo{Root: canonicalizePath(root)}

	if branch, err := runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = branch
	}
	if remote, err := runGit(ctx, dir, "config", "--get", "remote.origin.url"); err == nil {
		info.RemoteURL = remote
	}
	if status, err := runGit(ctx, dir, "status", "--porcelain"); err == nil {
		info.Dirty = status != ""
	}
	return info
}

// runGit runs a git command in the specified directory.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // git args are fixed by callers
	cmd.Dir = dir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// canonicalizePath resolves symlinks so one repository has one root.
func canonicalizePath(path string) string {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return canonical
}
