// Package client drives a weld-agent over its stdio protocol. The
// transport owns how the agent process is started (typically an SSH
// session into the sandbox); the client owns the message exchange.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weldcode/weld/pkg/agent/protocol"
)

// Transport starts the agent process and exposes its stdio.
type Transport interface {
	// Start launches the agent and returns its stdin/stdout.
	Start(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
}

// Config contains client configuration options.
type Config struct {
	Transport      Transport
	StartupTimeout time.Duration

	// CommandTimeout is the default per-command timeout sent to the agent.
	CommandTimeout time.Duration
}

// Client manages one weld-agent session. Commands are serialized: the
// protocol has no interleaving, so one command runs at a time.
type Client struct {
	transport Transport
	encoder   *protocol.Encoder
	decoder   *protocol.Decoder
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	ready     *protocol.ReadyMessage
	startup   time.Duration
	timeout   time.Duration
	mu        sync.Mutex
	closed    bool
}

// NewClient creates an agent client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	return &Client{
		transport: cfg.Transport,
		startup:   cfg.StartupTimeout,
		timeout:   cfg.CommandTimeout,
	}, nil
}

// Start launches the agent and waits for its READY handshake.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	stdin, stdout, err := c.transport.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	c.stdin = stdin
	c.stdout = stdout
	c.encoder = protocol.NewEncoder(stdin)
	c.decoder = protocol.NewDecoder(stdout)

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, derr := c.decoder.Decode()
		if derr != nil {
			errCh <- derr
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if perr := protocol.ParseParams(msg.Data, &ready); perr != nil {
			errCh <- perr
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.startup):
		return fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
		return nil
	}
}

// Ready returns the READY message received during startup.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Execute sends a command and waits for DONE or ERROR, streaming EVENT
// messages to eventCh when it is non-nil.
func (c *Client) Execute(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (*protocol.DoneMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	if err := c.encoder.EncodeCommand(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := c.decoder.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeEvent:
			var event protocol.EventMessage
			if err := protocol.ParseParams(msg.Data, &event); err != nil {
				return nil, fmt.Errorf("failed to parse event: %w", err)
			}
			if eventCh != nil {
				eventCh <- &event
			}

		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseParams(msg.Data, &done); err != nil {
				return nil, fmt.Errorf("failed to parse done: %w", err)
			}
			if done.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, done.CommandID)
			}
			return &done, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.CommandID != "" && errMsg.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, errMsg.CommandID)
			}
			return nil, fmt.Errorf("command failed: %s - %s", errMsg.Code, errMsg.Message)

		case protocol.MessageTypeExit:
			return nil, fmt.Errorf("agent exited unexpectedly")

		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// Exec runs a shell command inside the sandbox.
func (c *Client) Exec(ctx context.Context, command, workDir string) (*protocol.ExecResult, error) {
	var result protocol.ExecResult
	err := c.call(ctx, protocol.CommandTypeExec,
		&protocol.ExecParams{Command: command, WorkDir: workDir}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// WriteFile writes content to a path inside the sandbox.
func (c *Client) WriteFile(ctx context.Context, path, content string) (*protocol.FileWriteResult, error) {
	var result protocol.FileWriteResult
	err := c.call(ctx, protocol.CommandTypeFileWrite,
		&protocol.FileWriteParams{Path: path, Content: content}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadFile reads a file from the sandbox.
func (c *Client) ReadFile(ctx context.Context, path string) (*protocol.FileReadResult, error) {
	var result protocol.FileReadResult
	err := c.call(ctx, protocol.CommandTypeFileRead,
		&protocol.FileReadParams{Path: path}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteFile removes a file from the sandbox.
func (c *Client) DeleteFile(ctx context.Context, path string) (*protocol.FileDeleteResult, error) {
	var result protocol.FileDeleteResult
	err := c.call(ctx, protocol.CommandTypeFileDelete,
		&protocol.FileDeleteParams{Path: path}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListFiles lists files under a sandbox directory.
func (c *Client) ListFiles(ctx context.Context, dir string, recursive bool) (*protocol.FileListResult, error) {
	var result protocol.FileListResult
	err := c.call(ctx, protocol.CommandTypeFileList,
		&protocol.FileListParams{Dir: dir, Recursive: recursive}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// call wraps Execute with typed params and result decoding.
func (c *Client) call(ctx context.Context, cmdType protocol.CommandType, params, result interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	done, err := c.Execute(ctx, &protocol.CommandMessage{
		ID:      uuid.New().String(),
		Type:    cmdType,
		Timeout: int(c.timeout.Seconds()),
		Params:  raw,
	}, nil)
	if err != nil {
		return err
	}
	if err := protocol.ParseParams(done.Result, result); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	return nil
}

// Close shuts the agent down by closing its stdin.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
		}
	}
	if c.stdout != nil {
		if err := c.stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdout: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
