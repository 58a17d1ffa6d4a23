package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "encode ready message",
			msgType: MessageTypeReady,
			data: &ReadyMessage{
				Version:    "1.0.0",
				Platform:   "linux",
				Arch:       "amd64",
				PID:        1234,
				ProjectDir: "/home/user",
			},
			wantErr: false,
		},
		{
			name:    "encode event message",
			msgType: MessageTypeEvent,
			data: &EventMessage{
				CommandID: "cmd-123",
				Level:     "info",
				Message:   "Processing...",
			},
			wantErr: false,
		},
		{
			name:    "encode done message",
			msgType: MessageTypeDone,
			data: &DoneMessage{
				CommandID: "cmd-123",
				Duration:  1.5,
			},
			wantErr: false,
		},
		{
			name:    "encode error message",
			msgType: MessageTypeError,
			data: &ErrorMessage{
				CommandID: "cmd-123",
				Code:      "EXEC_FAILED",
				Message:   "Command execution failed",
				Retryable: false,
			},
			wantErr: false,
		},
		{
			name:    "encode exit message",
			msgType: MessageTypeExit,
			data: &ExitMessage{
				Reason:        "completed",
				ExitCode:      0,
				CommandsTotal: 5,
			},
			wantErr: false,
		},
		{
			name:    "invalid message type",
			msgType: MessageType("INVALID"),
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := NewEncoder(&buf)

			err := enc.Encode(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Encode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				// Verify output is valid JSON
				line := strings.TrimSpace(buf.String())
				var msg Message
				if err := json.Unmarshal([]byte(line), &msg); err != nil {
					t.Errorf("Output is not valid JSON: %v", err)
				}
				if msg.Type != tt.msgType {
					t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
				}
			}
		})
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		msgType MessageType
	}{
		{
			name:    "decode ready message",
			input:   `{"type":"READY","timestamp":"2026-01-01T00:00:00Z","data":{"version":"1.0.0","platform":"linux","arch":"amd64","pid":1234,"project_dir":"/home/user"}}`,
			wantErr: false,
			msgType: MessageTypeReady,
		},
		{
			name:    "decode command message",
			input:   `{"type":"CMD","timestamp":"2026-01-01T00:00:00Z","data":{"id":"cmd-123","type":"exec","timeout":30,"params":{"command":"ls"}}}`,
			wantErr: false,
			msgType: MessageTypeCommand,
		},
		{
			name:    "invalid message type",
			input:   `{"type":"BOGUS","timestamp":"2026-01-01T00:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			input:   `{"type":"READY"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input + "\n"))
			msg, err := dec.Decode()
			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && msg.Type != tt.msgType {
				t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	input := `{"type":"CMD","timestamp":"2026-01-01T00:00:00Z","data":{"id":"cmd-7","type":"file.write","timeout":30,"params":{"path":"/home/user/app/page.tsx","content":"<Page/>"}}}`
	dec := NewDecoder(strings.NewReader(input + "\n"))

	cmd, err := dec.DecodeCommand()
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	if cmd.Type != CommandTypeFileWrite {
		t.Errorf("command type = %v, want file.write", cmd.Type)
	}

	var params FileWriteParams
	if err := ParseParams(cmd.Params, &params); err != nil {
		t.Fatalf("ParseParams() error = %v", err)
	}
	if params.Path != "/home/user/app/page.tsx" {
		t.Errorf("path = %q", params.Path)
	}
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     CommandMessage
		wantErr bool
	}{
		{
			name: "valid exec",
			cmd: CommandMessage{
				ID: "c1", Type: CommandTypeExec, Timeout: 30,
				Params: json.RawMessage(`{"command":"true"}`),
			},
		},
		{
			name:    "missing id",
			cmd:     CommandMessage{Type: CommandTypeExec, Timeout: 30, Params: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "unknown command type",
			cmd:     CommandMessage{ID: "c1", Type: "pkg.ensure", Timeout: 30, Params: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "zero timeout",
			cmd:     CommandMessage{ID: "c1", Type: CommandTypeExec, Params: json.RawMessage(`{}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cmd.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoundTripLargePayload(t *testing.T) {
	content := strings.Repeat("x", 1<<20) // 1 MB file body
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	err := enc.EncodeCommand(&CommandMessage{
		ID:      "c-big",
		Type:    CommandTypeFileWrite,
		Timeout: 30,
		Params:  mustMarshal(t, &FileWriteParams{Path: "/home/user/big.txt", Content: content}),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cmd, err := NewDecoder(&buf).DecodeCommand()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var params FileWriteParams
	if err := ParseParams(cmd.Params, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if len(params.Content) != len(content) {
		t.Errorf("content length = %d, want %d", len(params.Content), len(content))
	}
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
