// Package failure classifies raw errors from remote collaborators into
// typed failures with a retryability verdict. Classification happens at the
// boundary: raw error text and untyped HTTP bodies never propagate past it.
package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the classification of a failure for retry and recovery logic.
type Kind string

const (
	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindConnectionFailed indicates the remote endpoint was unreachable
	// or the connection dropped mid-operation.
	KindConnectionFailed Kind = "connection_failed"

	// KindCommandFailed indicates a remote command ran but exited non-zero.
	// Never retryable: rerunning the same command yields the same exit code.
	KindCommandFailed Kind = "command_failed"

	// KindFileOperationFailed indicates a sandbox file operation failed.
	// Retryable only when the underlying cause is a missing file.
	KindFileOperationFailed Kind = "file_operation_failed"

	// KindAuth indicates an expired or rejected credential (401/403).
	// Never retryable: the user must re-authenticate.
	KindAuth Kind = "auth"

	// KindRateLimited indicates quota exhaustion (429).
	KindRateLimited Kind = "rate_limited"

	// KindServerError indicates a remote 5xx failure.
	KindServerError Kind = "server_error"

	// KindSyntax indicates the remote API rejected the request body (400).
	// Never retryable: the input must change.
	KindSyntax Kind = "syntax"

	// KindUnknown is the conservative default for anything unrecognized.
	// Never retryable, so real bugs are not masked behind retries.
	KindUnknown Kind = "unknown"
)

// Failure is a classified error. It implements the error interface and
// preserves the original cause in the chain for errors.Is/As inspection.
type Failure struct {
	// Kind is the failure classification.
	Kind Kind

	// Message is the user-facing description of the failure.
	Message string

	// Retryable reports whether a retry may succeed.
	Retryable bool

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("[%s] %s", f.Kind, f.Message)
}

// Unwrap returns the underlying cause for error chain traversal.
func (f *Failure) Unwrap() error {
	return f.Cause
}

// Is implements equality checking for errors.Is: two failures match when
// their kinds match.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// New creates a classified failure with an explicit kind.
func New(kind Kind, message string, cause error) *Failure {
	return &Failure{
		Kind:      kind,
		Message:   message,
		Retryable: retryableByDefault(kind),
		Cause:     cause,
	}
}

// retryableByDefault returns the default retry verdict for a kind.
func retryableByDefault(kind Kind) bool {
	switch kind {
	case KindTimeout, KindConnectionFailed, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// Classify maps a raw sandbox-layer error to a typed failure. It is pure
// and total: any non-nil error yields exactly one kind, and repeated calls
// with the same input yield the same result. A nil error returns nil.
//
// Classification is keyword-driven over the error text because the sandbox
// layer surfaces failures from several runtimes with no common error type.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	// An already-classified failure passes through unchanged.
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	text := strings.ToLower(err.Error())

	switch {
	case containsAny(text, "timeout", "timed out", "deadline exceeded"):
		return New(KindTimeout, "operation timed out", err)

	case containsAny(text, "connection", "network", "socket", "not responding", "not responsive", "dial tcp", "broken pipe", "eof"):
		return New(KindConnectionFailed, "sandbox connection failed", err)

	case containsAny(text, "exit code", "exit status", "non-zero", "exited with"):
		return New(KindCommandFailed, "command failed", err)

	case containsAny(text, "enoent", "no such file", "file not found"):
		// Missing files are transient during restore: the write that
		// creates them may still be in flight.
		fof := New(KindFileOperationFailed, "file not found", err)
		fof.Retryable = true
		return fof

	case containsAny(text, "permission denied", "eacces", "read-only file system"):
		return New(KindFileOperationFailed, "file operation failed", err)

	case containsAny(text, "unauthorized", "forbidden", "invalid token", "authentication"):
		return New(KindAuth, "authentication failed", err)

	case containsAny(text, "rate limit", "too many requests", "429"):
		return New(KindRateLimited, "rate limited", err)

	default:
		return New(KindUnknown, "unexpected error", err)
	}
}

// apiErrorBody is the error envelope returned by the managed-database API.
type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
}

// ClassifyHTTP maps an HTTP status and response body from the schema API to
// a typed failure. A 2xx status returns nil. The body is parsed for a
// human-readable message; raw JSON never leaves this function.
func ClassifyHTTP(status int, body []byte) *Failure {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := parseAPIMessage(body)

	switch {
	case status == 401 || status == 403:
		if msg == "" {
			msg = "credential rejected, re-authentication required"
		}
		return New(KindAuth, msg, nil)

	case status == 429:
		if msg == "" {
			msg = "rate limited by remote API"
		}
		return New(KindRateLimited, msg, nil)

	case status >= 500:
		if msg == "" {
			msg = fmt.Sprintf("remote API returned %d", status)
		}
		return New(KindServerError, msg, nil)

	case status == 400:
		if msg == "" {
			msg = "request rejected by remote API"
		}
		return New(KindSyntax, msg, nil)

	default:
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", status)
		}
		return New(KindUnknown, msg, nil)
	}
}

// parseAPIMessage extracts a message from an untyped API error body.
// Returns "" when the body is empty or not recognizable JSON.
func parseAPIMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Plain-text bodies are used as-is, truncated to keep log
		// lines bounded.
		text := strings.TrimSpace(string(body))
		if len(text) > 500 {
			text = text[:500]
		}
		return text
	}
	for _, candidate := range []string{parsed.Message, parsed.Error, parsed.Msg} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// IsRetryable reports whether err is a failure eligible for retry.
// Unclassified errors are classified first.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}

// KindOf returns the kind of err, classifying it if necessary.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// containsAny reports whether s contains any of the substrings.
// The caller is expected to pass s already lowercased.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
