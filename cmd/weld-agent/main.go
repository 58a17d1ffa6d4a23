// Package main implements the weld-agent binary. It runs inside a
// sandbox and executes commands received via JSON-over-stdio: shell
// execution and file operations against the project directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/weldcode/weld/pkg/agent/handlers"
	"github.com/weldcode/weld/pkg/agent/protocol"
)

const (
	version           = "1.0.0"
	defaultProjectDir = "/home/user"
)

type agent struct {
	encoder      *protocol.Encoder
	decoder      *protocol.Decoder
	projectDir   string
	commandCount int
}

func main() {
	a := &agent{
		encoder:    protocol.NewEncoder(os.Stdout),
		decoder:    protocol.NewDecoder(os.Stdin),
		projectDir: defaultProjectDir,
	}
	if dir := os.Getenv("WELD_PROJECT_DIR"); dir != "" {
		a.projectDir = dir
	}

	if err := a.sendReady(); err != nil {
		a.sendErrorAndExit("READY_FAILED", fmt.Sprintf("failed to send ready: %v", err), 1)
		return
	}

	ctx := context.Background()
	exitCode := 0
	reason := "completed"

	for {
		if err := a.processNextCommand(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				reason = "stdin_closed"
			} else {
				reason = "error"
				exitCode = 1
			}
			break
		}
	}

	a.exit(reason, exitCode)
}

func (a *agent) sendReady() error {
	return a.encoder.EncodeReady(&protocol.ReadyMessage{
		Version:    version,
		Platform:   runtime.GOOS,
		Arch:       runtime.GOARCH,
		PID:        os.Getpid(),
		ProjectDir: a.projectDir,
	})
}

func (a *agent) processNextCommand(ctx context.Context) error {
	cmd, err := a.decoder.DecodeCommand()
	if err != nil {
		return err
	}

	a.commandCount++

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
	defer cancel()

	start := time.Now()
	result, err := a.handleCommand(cmdCtx, cmd)
	duration := time.Since(start).Seconds()

	if err != nil {
		return a.encoder.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "EXEC_FAILED",
			Message:   err.Error(),
			Retryable: false,
		})
	}

	return a.encoder.EncodeDone(&protocol.DoneMessage{
		CommandID: cmd.ID,
		Result:    result,
		Duration:  duration,
	})
}

func (a *agent) handleCommand(ctx context.Context, cmd *protocol.CommandMessage) (json.RawMessage, error) {
	switch cmd.Type {
	case protocol.CommandTypeExec:
		var params protocol.ExecParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		if params.WorkDir == "" {
			params.WorkDir = a.projectDir
		}
		handler := &handlers.ExecHandler{}
		result, err := handler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileWrite:
		var params protocol.FileWriteParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.FileWriteHandler{}
		result, err := handler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileRead:
		var params protocol.FileReadParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.FileReadHandler{}
		result, err := handler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileDelete:
		var params protocol.FileDeleteParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.FileDeleteHandler{}
		result, err := handler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileList:
		var params protocol.FileListParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		if params.Dir == "" {
			params.Dir = a.projectDir
		}
		handler := &handlers.FileListHandler{}
		result, err := handler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

func (a *agent) exit(reason string, exitCode int) {
	a.encoder.EncodeExit(&protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      exitCode,
		CommandsTotal: a.commandCount,
	})
	os.Exit(exitCode)
}

func (a *agent) sendErrorAndExit(code, message string, exitCode int) {
	a.encoder.EncodeError(&protocol.ErrorMessage{
		Code:      code,
		Message:   message,
		Retryable: false,
	})
	os.Exit(exitCode)
}
