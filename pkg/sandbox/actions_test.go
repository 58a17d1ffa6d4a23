package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/weldcode/weld/pkg/failure"
)

func TestActionsReadDegradesToNotFound(t *testing.T) {
	sb := newFakeSandbox("sbx-1")
	actions := NewActions(sb, "/home/user")
	ctx := context.Background()

	// Missing file.
	if _, err := actions.ReadFile(ctx, "app/missing.tsx"); !IsNotFound(err) {
		t.Errorf("missing file err = %v, want not-found", err)
	}

	// Transport failure during read looks identical to a missing file.
	sb.files["/home/user/app/page.tsx"] = "<Page/>"
	broken := &fakeSandbox{id: "sbx-2", files: map[string]string{}}
	if _, err := NewActions(broken, "/home/user").ReadFile(ctx, "app/page.tsx"); !IsNotFound(err) {
		t.Errorf("unreadable file err = %v, want not-found", err)
	}
}

func TestActionsWritePropagatesFailure(t *testing.T) {
	sb := newFakeSandbox("sbx-1")
	sb.onWrite = func(string) error { return errors.New("disk full") }
	actions := NewActions(sb, "/home/user")

	err := actions.WriteFile(context.Background(), "app/page.tsx", "x")
	if err == nil {
		t.Fatal("write failure swallowed")
	}
	if failure.KindOf(err) != failure.KindFileOperationFailed {
		t.Errorf("kind = %s, want file_operation_failed", failure.KindOf(err))
	}
}

func TestActionsPathMapping(t *testing.T) {
	sb := newFakeSandbox("sbx-1")
	actions := NewActions(sb, "/home/user")
	ctx := context.Background()

	if err := actions.WriteFile(ctx, "components/ui/button.tsx", "<Button/>"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := sb.files["/home/user/components/ui/button.tsx"]; !ok {
		t.Fatalf("file not written under project dir: %v", sb.files)
	}

	paths, err := actions.ListFiles(ctx, "components")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 1 || paths[0] != "components/ui/button.tsx" {
		t.Errorf("listed paths = %v", paths)
	}
}
