package sshbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/weldcode/weld/pkg/failure"
	"github.com/weldcode/weld/pkg/sandbox"
)

// TransportError represents an error from the SSH transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "write")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Box implements the sandbox interface over an SSH connection.
type Box struct {
	id     string
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
}

// Connect dials the sandbox host and returns a live Box.
func Connect(ctx context.Context, id string, config *Config) (*Box, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig, err := config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := config.Address()
	log.Debug().Str("address", address).Str("sandbox_id", id).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case client := <-connChan:
		log.Info().Str("address", address).Str("sandbox_id", id).Msg("SSH connection established")
		return &Box{id: id, config: config, client: client, isConnected: true}, nil
	}
}

// ID returns the sandbox identifier.
func (b *Box) ID() string {
	return b.id
}

// RunCommand runs a shell command on the sandbox host.
func (b *Box) RunCommand(ctx context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandResult, error) {
	client, err := b.getClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	finalCmd := cmd
	if opts.Cwd != "" {
		finalCmd = fmt.Sprintf("cd %s && %s", opts.Cwd, cmd)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.config.CommandTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-execCtx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = execCtx.Err()
	case execErr = <-doneChan:
	}

	result := &sandbox.CommandResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			// Command ran but returned non-zero; that is the caller's to
			// interpret, not a transport failure.
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		if execCtx.Err() != nil {
			return nil, failure.New(failure.KindTimeout,
				fmt.Sprintf("command timed out after %s", timeout), execErr)
		}
		return nil, &TransportError{Op: "exec", Err: execErr, IsTemporary: true}
	}

	return result, nil
}

// WriteFile writes content to an absolute path on the sandbox via SFTP.
func (b *Box) WriteFile(ctx context.Context, path, content string) error {
	sftpClient, err := b.newSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(sftpDir(path)); err != nil {
		return &TransportError{Op: "write", Err: err, IsTemporary: true}
	}

	file, err := sftpClient.Create(path)
	if err != nil {
		return &TransportError{Op: "write", Err: err, IsTemporary: true}
	}
	defer file.Close()

	if _, err := file.Write([]byte(content)); err != nil {
		return &TransportError{Op: "write", Err: err, IsTemporary: true}
	}
	return nil
}

// ReadFile reads an absolute path from the sandbox via SFTP.
func (b *Box) ReadFile(ctx context.Context, path string) (string, error) {
	sftpClient, err := b.newSFTPClient()
	if err != nil {
		return "", err
	}
	defer sftpClient.Close()

	file, err := sftpClient.Open(path)
	if err != nil {
		return "", &TransportError{Op: "read", Err: err, IsTemporary: false}
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", &TransportError{Op: "read", Err: err, IsTemporary: true}
	}
	return string(content), nil
}

// DeleteFile removes an absolute path from the sandbox via SFTP.
func (b *Box) DeleteFile(ctx context.Context, path string) error {
	sftpClient, err := b.newSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(path); err != nil {
		return &TransportError{Op: "delete", Err: err, IsTemporary: false}
	}
	return nil
}

// ListFiles lists regular files under an absolute directory via SFTP.
func (b *Box) ListFiles(ctx context.Context, dir string) ([]string, error) {
	sftpClient, err := b.newSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	walker := sftpClient.Walk(dir)
	var paths []string
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, &TransportError{Op: "list", Err: err, IsTemporary: true}
		}
		if info := walker.Stat(); info != nil && !info.IsDir() {
			paths = append(paths, walker.Path())
		}
	}
	return paths, nil
}

// Host returns the externally reachable URL for a sandbox port.
func (b *Box) Host(port int) (string, error) {
	if b.config.HostPattern == "" {
		return fmt.Sprintf("http://%s:%d", b.config.Host, port), nil
	}
	return fmt.Sprintf(b.config.HostPattern, port), nil
}

// Close releases the SSH connection. It does not terminate the sandbox.
func (b *Box) Close() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if !b.isConnected || b.client == nil {
		return nil
	}

	log.Debug().Str("sandbox_id", b.id).Msg("closing SSH connection")
	err := b.client.Close()
	b.client = nil
	b.isConnected = false

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (b *Box) getClient() (*ssh.Client, error) {
	b.connMu.RLock()
	defer b.connMu.RUnlock()

	if !b.isConnected || b.client == nil {
		return nil, &TransportError{Op: "get-client", Err: fmt.Errorf("not connected")}
	}
	return b.client, nil
}

func (b *Box) newSFTPClient() (*sftp.Client, error) {
	client, err := b.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	return sftpClient, nil
}

// sftpDir returns the parent directory of a slash-separated remote path.
func sftpDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}
