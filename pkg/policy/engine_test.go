package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(zerolog.New(os.Stderr).Level(zerolog.ErrorLevel))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestEvaluateFileMutations(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		name        string
		input       MutationInput
		wantAllowed bool
	}{
		{"write inside app", MutationInput{Operation: "write", Path: "app/page.tsx"}, true},
		{"write inside components", MutationInput{Operation: "write", Path: "components/button.tsx"}, true},
		{"root config file", MutationInput{Operation: "write", Path: "package.json"}, true},
		{"patch in lib", MutationInput{Operation: "patch", Path: "lib/utils.ts"}, true},
		{"outside scope", MutationInput{Operation: "write", Path: "secrets/env.txt"}, false},
		{"unlisted root file", MutationInput{Operation: "write", Path: ".env"}, false},
		{"node_modules", MutationInput{Operation: "delete", Path: "node_modules/react/index.js"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.EvaluateMutation(context.Background(), &tt.input)
			if err != nil {
				t.Fatalf("EvaluateMutation: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v (violations: %+v)",
					result.Allowed, tt.wantAllowed, result.Violations)
			}
		})
	}
}

func TestEvaluateTraversalIsCritical(t *testing.T) {
	engine := testEngine(t)

	result, err := engine.EvaluateMutation(context.Background(), &MutationInput{
		Operation: "write",
		Path:      "app/../../etc/passwd",
	})
	if err != nil {
		t.Fatalf("EvaluateMutation: %v", err)
	}
	if result.Allowed {
		t.Fatal("traversal path allowed")
	}

	found := false
	for _, v := range result.Violations {
		if v.Severity == "critical" {
			found = true
		}
	}
	if !found {
		t.Errorf("no critical violation recorded: %+v", result.Violations)
	}
}

func TestEvaluatePackageInstalls(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		name        string
		packages    []string
		wantAllowed bool
	}{
		{"allowed package", []string{"zod"}, true},
		{"multiple allowed", []string{"framer-motion", "recharts"}, true},
		{"unlisted package", []string{"left-pad"}, false},
		{"mixed batch", []string{"zod", "event-stream"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.EvaluateMutation(context.Background(), &MutationInput{
				Operation: "install",
				Packages:  tt.packages,
			})
			if err != nil {
				t.Fatalf("EvaluateMutation: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v (violations: %+v)",
					result.Allowed, tt.wantAllowed, result.Violations)
			}
		})
	}
}

func TestLoadPoliciesFromFile(t *testing.T) {
	engine := testEngine(t)

	dir := t.TempDir()
	policyPath := filepath.Join(dir, "no-css-modules.rego")
	src := `
package weld.custom

import rego.v1

deny contains violation if {
	endswith(input.path, ".module.css")
	violation := {
		"message": "CSS modules are not used in this project",
		"severity": "error",
	}
}
`
	if err := os.WriteFile(policyPath, []byte(src), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	if err := engine.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	if _, err := engine.GetPolicy("no-css-modules"); err != nil {
		t.Errorf("loaded policy not found: %v", err)
	}

	result, err := engine.EvaluateMutation(context.Background(), &MutationInput{
		Operation: "write",
		Path:      "app/button.module.css",
	})
	if err != nil {
		t.Fatalf("EvaluateMutation: %v", err)
	}
	if result.Allowed {
		t.Error("custom policy did not block mutation")
	}
}

func TestLoadPoliciesRejectsBadRego(t *testing.T) {
	engine := testEngine(t)

	dir := t.TempDir()
	policyPath := filepath.Join(dir, "broken.rego")
	if err := os.WriteFile(policyPath, []byte("this is not rego"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	if err := engine.LoadPolicies(context.Background(), []string{policyPath}); err == nil {
		t.Error("broken policy compiled")
	}
}

func TestListPolicies(t *testing.T) {
	engine := testEngine(t)

	policies := engine.ListPolicies()
	if len(policies) != 2 {
		t.Fatalf("policies = %d, want 2", len(policies))
	}

	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
	}
	if !names["editable-scope"] || !names["package-allowlist"] {
		t.Errorf("unexpected policy set: %v", names)
	}
}
