// Package sandbox owns the identity and reachability of the remote
// execution environment: connecting, recreating, restoring state, and
// wrapping file operations with well-defined failure semantics.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// CommandResult is the outcome of a command run inside a sandbox.
type CommandResult struct {
	// ExitCode is the command's exit code.
	ExitCode int

	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// RunOptions controls command execution.
type RunOptions struct {
	// Cwd is the working directory for the command.
	Cwd string

	// Timeout bounds the command; zero means the transport default.
	Timeout time.Duration
}

// Sandbox is a live handle to a remote execution environment: a
// filesystem, a shell, and a preview endpoint.
type Sandbox interface {
	// ID returns the sandbox identifier.
	ID() string

	// RunCommand runs a shell command in the sandbox.
	RunCommand(ctx context.Context, cmd string, opts RunOptions) (*CommandResult, error)

	// WriteFile writes content to an absolute path in the sandbox.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile reads an absolute path from the sandbox.
	ReadFile(ctx context.Context, path string) (string, error)

	// DeleteFile removes an absolute path from the sandbox.
	DeleteFile(ctx context.Context, path string) error

	// ListFiles lists file paths under an absolute directory.
	ListFiles(ctx context.Context, dir string) ([]string, error)

	// Host returns the externally reachable URL for a sandbox port.
	Host(port int) (string, error)

	// Close releases the connection. It does not terminate the sandbox.
	Close() error
}

// Provider provisions and reconnects sandboxes.
type Provider interface {
	// Connect attaches to an existing sandbox by ID.
	Connect(ctx context.Context, id string) (Sandbox, error)

	// Create provisions a fresh sandbox from a template.
	Create(ctx context.Context, template string, timeout time.Duration) (Sandbox, error)
}

// Handle describes a resolved sandbox to callers that must not hold the
// connection itself.
type Handle struct {
	// ID is the sandbox identifier.
	ID string

	// Reachable reports whether the liveness probe succeeded.
	Reachable bool

	// PreviewURL is the externally reachable dev-server URL.
	PreviewURL string
}

// ErrFileNotFound is the degraded result of any sandbox read failure:
// callers treat unreadable as absent and fall back to the snapshot.
var ErrFileNotFound = errors.New("file not found in sandbox")

// IsNotFound reports whether err is the degraded read result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}
