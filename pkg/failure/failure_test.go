package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifySandboxErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
	}{
		{"timeout", errors.New("command timed out after 30s"), KindTimeout, true},
		{"deadline", errors.New("context deadline exceeded"), KindTimeout, true},
		{"connection", errors.New("connection refused"), KindConnectionFailed, true},
		{"network", errors.New("network unreachable"), KindConnectionFailed, true},
		{"not responsive", errors.New("sandbox is not responsive"), KindConnectionFailed, true},
		{"exit code", errors.New("command exited with exit code 1"), KindCommandFailed, false},
		{"non-zero", errors.New("process returned non-zero status"), KindCommandFailed, false},
		{"enoent", errors.New("open app/page.tsx: no such file or directory"), KindFileOperationFailed, true},
		{"permission", errors.New("write /etc/passwd: permission denied"), KindFileOperationFailed, false},
		{"auth", errors.New("401 Unauthorized"), KindAuth, false},
		{"rate limit", errors.New("rate limit exceeded"), KindRateLimited, true},
		{"unknown", errors.New("something inexplicable happened"), KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			if f.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", f.Kind, tt.wantKind)
			}
			if f.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", f.Retryable, tt.retryable)
			}
			if !errors.Is(f, tt.err) {
				t.Error("classified failure does not wrap the original error")
			}
		})
	}
}

// Classification must be idempotent: classifying the same input twice, or
// classifying an already-classified failure, yields the same verdict.
func TestClassifyIdempotent(t *testing.T) {
	raw := errors.New("connection reset by peer")

	first := Classify(raw)
	second := Classify(raw)
	if first.Kind != second.Kind || first.Retryable != second.Retryable {
		t.Fatalf("classification not stable: %v vs %v", first, second)
	}

	rewrapped := Classify(fmt.Errorf("wrapped: %w", first))
	if rewrapped != first {
		t.Error("re-classifying a classified failure should pass it through")
	}
}

func TestClassifyNil(t *testing.T) {
	if f := Classify(nil); f != nil {
		t.Errorf("Classify(nil) = %v, want nil", f)
	}
}

// Totality: any non-empty error string produces exactly one kind.
func TestClassifyTotality(t *testing.T) {
	inputs := []string{"x", " ", "!!", "?", "a very long unclassifiable message", "TIMEOUT", "Exit Code 127"}
	for _, in := range inputs {
		f := Classify(errors.New(in))
		if f == nil || f.Kind == "" {
			t.Errorf("Classify(%q) produced no kind", in)
		}
	}
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  Kind
		retryable bool
	}{
		{"unauthorized", 401, `{"message":"JWT expired"}`, KindAuth, false},
		{"forbidden", 403, ``, KindAuth, false},
		{"rate limited", 429, `{"msg":"slow down"}`, KindRateLimited, true},
		{"server error", 500, `{"error":"internal"}`, KindServerError, true},
		{"bad gateway", 502, ``, KindServerError, true},
		{"syntax", 400, `{"message":"syntax error at or near \"CREAT\""}`, KindSyntax, false},
		{"teapot", 418, ``, KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ClassifyHTTP(tt.status, []byte(tt.body))
			if f.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", f.Kind, tt.wantKind)
			}
			if f.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", f.Retryable, tt.retryable)
			}
		})
	}
}

func TestClassifyHTTPSuccess(t *testing.T) {
	if f := ClassifyHTTP(200, nil); f != nil {
		t.Errorf("2xx should classify as nil, got %v", f)
	}
}

func TestClassifyHTTPParsesBodyMessage(t *testing.T) {
	f := ClassifyHTTP(400, []byte(`{"message":"syntax error at line 3"}`))
	if f.Message != "syntax error at line 3" {
		t.Errorf("message = %q, want parsed body message", f.Message)
	}

	// Non-JSON bodies are carried as plain text.
	f = ClassifyHTTP(500, []byte("upstream connect error"))
	if f.Message != "upstream connect error" {
		t.Errorf("message = %q, want raw text body", f.Message)
	}
}

func TestFailureIs(t *testing.T) {
	f := New(KindTimeout, "slow", nil)
	if !errors.Is(f, &Failure{Kind: KindTimeout}) {
		t.Error("failures of the same kind should match via errors.Is")
	}
	if errors.Is(f, &Failure{Kind: KindAuth}) {
		t.Error("failures of different kinds must not match")
	}
}
