package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/weldcode/weld/pkg/failure"
	"github.com/weldcode/weld/pkg/sandbox"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func TestCreateSandbox(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sandboxes" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req["template"] != "nextjs16-tailwind4" {
			t.Errorf("template = %v", req["template"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"sandbox_id": "sbx-99",
			"domain":     "sbx.example.dev",
		})
	})

	sb, err := client.Create(context.Background(), "nextjs16-tailwind4", 10*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sb.ID() != "sbx-99" {
		t.Errorf("id = %q", sb.ID())
	}

	url, err := sb.Host(3000)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	if url != "https://3000-sbx-99.sbx.example.dev" {
		t.Errorf("preview url = %q", url)
	}
}

func TestExecCommand(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sandboxes/sbx-1/connect":
			json.NewEncoder(w).Encode(map[string]string{"sandbox_id": "sbx-1", "domain": "sbx.example.dev"})
		case "/v1/sandboxes/sbx-1/exec":
			var req execRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Command != "npm install" {
				t.Errorf("command = %q", req.Command)
			}
			json.NewEncoder(w).Encode(execResponse{ExitCode: 0, Stdout: "ok", DurationMS: 1500})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	sb, err := client.Connect(context.Background(), "sbx-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	result, err := sb.RunCommand(context.Background(), "npm install", sandbox.RunOptions{})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if result.ExitCode != 0 || result.Stdout != "ok" {
		t.Errorf("result = %+v", result)
	}
	if result.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %s", result.Duration)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   failure.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad key"}`, failure.KindAuth},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, failure.KindRateLimited},
		{"server error", http.StatusBadGateway, "upstream died", failure.KindServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.Connect(context.Background(), "sbx-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if failure.KindOf(err) != tt.kind {
				t.Errorf("kind = %s, want %s", failure.KindOf(err), tt.kind)
			}
		})
	}
}

func TestKillToleratesMissingSandbox(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"sandbox not found"}`))
	})

	if err := client.Kill(context.Background(), "sbx-gone"); err != nil {
		t.Errorf("kill of missing sandbox errored: %v", err)
	}
}
