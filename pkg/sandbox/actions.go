package sandbox

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/weldcode/weld/pkg/failure"
)

// Actions exposes session-relative file and command operations on a
// resolved sandbox. Paths are relative to the project directory; writes
// and deletes propagate failures, reads degrade to ErrFileNotFound so the
// caller falls back to the snapshot.
type Actions struct {
	sandbox    Sandbox
	projectDir string
}

// NewActions wraps a sandbox with session-relative operations rooted at
// projectDir.
func NewActions(sb Sandbox, projectDir string) *Actions {
	return &Actions{sandbox: sb, projectDir: projectDir}
}

// Sandbox returns the underlying sandbox handle.
func (a *Actions) Sandbox() Sandbox {
	return a.sandbox
}

// Abs maps a session-relative path to its absolute sandbox path.
func (a *Actions) Abs(rel string) string {
	return path.Join(a.projectDir, rel)
}

// WriteFile writes content to a session-relative path, creating parent
// directories first.
func (a *Actions) WriteFile(ctx context.Context, rel, content string) error {
	abs := a.Abs(rel)
	if dir := path.Dir(abs); dir != a.projectDir && dir != "/" {
		cmd := fmt.Sprintf("mkdir -p %s", shellQuote(dir))
		if _, err := a.sandbox.RunCommand(ctx, cmd, RunOptions{}); err != nil {
			return failure.New(failure.KindFileOperationFailed,
				fmt.Sprintf("failed to create directory for %s", rel), err)
		}
	}
	if err := a.sandbox.WriteFile(ctx, abs, content); err != nil {
		return failure.New(failure.KindFileOperationFailed,
			fmt.Sprintf("failed to write %s", rel), err)
	}
	return nil
}

// ReadFile reads a session-relative path. Any failure degrades to
// ErrFileNotFound: an unreachable file and a missing file look the same to
// the mutation pipeline.
func (a *Actions) ReadFile(ctx context.Context, rel string) (string, error) {
	content, err := a.sandbox.ReadFile(ctx, a.Abs(rel))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	return content, nil
}

// DeleteFile removes a session-relative path. Unlike reads, delete
// failures propagate: a file that should be gone but is not corrupts the
// next mutation.
func (a *Actions) DeleteFile(ctx context.Context, rel string) error {
	if err := a.sandbox.DeleteFile(ctx, a.Abs(rel)); err != nil {
		return failure.New(failure.KindFileOperationFailed,
			fmt.Sprintf("failed to delete %s", rel), err)
	}
	return nil
}

// ListFiles lists session-relative paths under a session-relative dir.
func (a *Actions) ListFiles(ctx context.Context, rel string) ([]string, error) {
	abs, err := a.sandbox.ListFiles(ctx, a.Abs(rel))
	if err != nil {
		return nil, failure.New(failure.KindFileOperationFailed,
			fmt.Sprintf("failed to list %s", rel), err)
	}
	out := make([]string, 0, len(abs))
	prefix := a.projectDir + "/"
	for _, p := range abs {
		out = append(out, strings.TrimPrefix(p, prefix))
	}
	return out, nil
}

// Run executes a command in the project directory.
func (a *Actions) Run(ctx context.Context, cmd string, opts RunOptions) (*CommandResult, error) {
	if opts.Cwd == "" {
		opts.Cwd = a.projectDir
	}
	return a.sandbox.RunCommand(ctx, cmd, opts)
}

// shellQuote wraps an argument in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
