package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/weldcode/weld/pkg/patch"
	"github.com/weldcode/weld/pkg/policy"
	"github.com/weldcode/weld/pkg/sandbox"
	"github.com/weldcode/weld/pkg/schema"
	"github.com/weldcode/weld/pkg/stores"
	"github.com/weldcode/weld/pkg/telemetry"
)

type fakeSandbox struct {
	id      string
	files   map[string]string
	onWrite func(path string) error
}

func newFakeSandbox(id string) *fakeSandbox {
	return &fakeSandbox{id: id, files: make(map[string]string)}
}

func (s *fakeSandbox) ID() string { return s.id }

func (s *fakeSandbox) RunCommand(_ context.Context, cmd string, _ sandbox.RunOptions) (*sandbox.CommandResult, error) {
	return &sandbox.CommandResult{ExitCode: 0}, nil
}

func (s *fakeSandbox) WriteFile(_ context.Context, path, content string) error {
	if s.onWrite != nil {
		if err := s.onWrite(path); err != nil {
			return err
		}
	}
	s.files[path] = content
	return nil
}

func (s *fakeSandbox) ReadFile(_ context.Context, path string) (string, error) {
	content, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (s *fakeSandbox) DeleteFile(_ context.Context, path string) error {
	delete(s.files, path)
	return nil
}

func (s *fakeSandbox) ListFiles(_ context.Context, dir string) ([]string, error) {
	var out []string
	for p := range s.files {
		if strings.HasPrefix(p, dir) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeSandbox) Host(port int) (string, error) {
	return fmt.Sprintf("https://%d-%s.example.dev", port, s.id), nil
}

func (s *fakeSandbox) Close() error { return nil }

type fakeProvider struct {
	box          *fakeSandbox
	connectErr   error
	connectCalls int
	createCalls  int
}

func (p *fakeProvider) Connect(_ context.Context, id string) (sandbox.Sandbox, error) {
	p.connectCalls++
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	if p.box == nil {
		p.box = newFakeSandbox(id)
	}
	return p.box, nil
}

func (p *fakeProvider) Create(_ context.Context, _ string, _ time.Duration) (sandbox.Sandbox, error) {
	p.createCalls++
	if p.box == nil {
		p.box = newFakeSandbox("sbx-new")
	}
	return p.box, nil
}

type testHarness struct {
	engine   *Engine
	store    stores.Store
	provider *fakeProvider
	session  *stores.Session
}

func setup(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	provider := &fakeProvider{}
	cfg := sandbox.DefaultConfig()
	cfg.StabilizePause = time.Millisecond
	manager := sandbox.NewManager(provider, cfg, logger, metrics)

	policies, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}

	eng, err := New(Options{
		Store:     store,
		Sandboxes: manager,
		Policies:  policies,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	session, err := eng.CreateSession(ctx, "demo-app")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	return &testHarness{engine: eng, store: store, provider: provider, session: session}
}

func TestResolveSandboxPersistsIdentity(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	res, err := h.engine.ResolveSandbox(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.SandboxID == "" || res.PreviewURL == "" {
		t.Errorf("incomplete resolution: %+v", res)
	}

	session, err := h.engine.GetSession(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.SandboxID == nil || *session.SandboxID != res.SandboxID {
		t.Errorf("sandbox identity not persisted: %+v", session)
	}
	if session.PreviewURL != res.PreviewURL {
		t.Errorf("preview URL not persisted: %q", session.PreviewURL)
	}
}

func TestMutateFileWriteThrough(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	result, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
		Op:      OpWrite,
		Path:    "app/page.tsx",
		Content: "<Page/>",
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !result.Applied {
		t.Fatalf("write not applied: %+v", result)
	}

	if got := h.provider.box.files["/home/user/app/page.tsx"]; got != "<Page/>" {
		t.Errorf("sandbox content = %q", got)
	}

	file, err := h.store.GetFile(ctx, h.session.ID, "app/page.tsx")
	if err != nil {
		t.Fatalf("snapshot lookup: %v", err)
	}
	if file.Content != "<Page/>" {
		t.Errorf("snapshot content = %q", file.Content)
	}
}

func TestMutateFileDelete(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	if _, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
		Op: OpWrite, Path: "app/old.tsx", Content: "x",
	}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	result, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
		Op: OpDelete, Path: "app/old.tsx",
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !result.Applied {
		t.Fatalf("delete not applied: %+v", result)
	}

	if _, ok := h.provider.box.files["/home/user/app/old.tsx"]; ok {
		t.Error("file survived in sandbox")
	}
	if _, err := h.store.GetFile(ctx, h.session.ID, "app/old.tsx"); !stores.IsNotFound(err) {
		t.Errorf("snapshot entry survived: %v", err)
	}
}

func TestMutateFileBlockedByPolicy(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	result, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
		Op: OpWrite, Path: ".env", Content: "SECRET=1",
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if result.Applied {
		t.Fatal("out-of-scope write applied")
	}
	if len(result.Violations) == 0 {
		t.Error("no violations reported")
	}
	// Policy runs before any sandbox work.
	if h.provider.createCalls != 0 {
		t.Errorf("sandbox created for a blocked mutation: %d", h.provider.createCalls)
	}
}

func TestApplyPatchWriteThrough(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	if _, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
		Op: OpWrite, Path: "app/page.tsx", Content: "line one\nline two\nline three",
	}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	diffs := []*patch.FileDiff{{
		Path: "app/page.tsx",
		Hunks: []patch.Hunk{{
			Op: patch.OpReplace, StartLine: 2, EndLine: 2, NewContent: "patched line",
		}},
	}}

	result, err := h.engine.ApplyPatch(ctx, h.session.ID, diffs, nil, nil, patch.LoopOptions{})
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if !result.Applied || result.Iterations != 1 {
		t.Errorf("result = %+v", result)
	}

	if got := h.provider.box.files["/home/user/app/page.tsx"]; !strings.Contains(got, "patched line") {
		t.Errorf("sandbox content = %q", got)
	}
	file, err := h.store.GetFile(ctx, h.session.ID, "app/page.tsx")
	if err != nil {
		t.Fatalf("snapshot lookup: %v", err)
	}
	if !strings.Contains(file.Content, "patched line") {
		t.Errorf("snapshot content = %q", file.Content)
	}
}

func TestApplyPatchPolicyRejected(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	diffs := []*patch.FileDiff{{
		Path:  "node_modules/react/index.js",
		Hunks: []patch.Hunk{{Op: patch.OpDelete, StartLine: 1, EndLine: 1}},
	}}

	result, err := h.engine.ApplyPatch(ctx, h.session.ID, diffs, nil, nil, patch.LoopOptions{})
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if result.Applied {
		t.Fatal("policy-rejected patch applied")
	}
	if len(result.Violations) == 0 {
		t.Error("no violations reported")
	}
}

func TestSingleMutationPerSession(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	entered := make(chan struct{})
	proceed := make(chan struct{})
	h.provider.box = newFakeSandbox("sbx-slow")
	h.provider.box.onWrite = func(string) error {
		close(entered)
		<-proceed
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
			Op: OpWrite, Path: "app/a.tsx", Content: "a",
		})
		done <- err
	}()

	<-entered
	_, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
		Op: OpWrite, Path: "app/b.tsx", Content: "b",
	})
	if !errors.Is(err, ErrMutationInFlight) {
		t.Errorf("second mutation err = %v, want ErrMutationInFlight", err)
	}
	close(proceed)

	if err := <-done; err != nil {
		t.Fatalf("first mutation: %v", err)
	}
	h.provider.box.onWrite = nil

	// The guard is released once the first mutation finishes.
	if _, err := h.engine.MutateFile(ctx, h.session.ID, MutationRequest{
		Op: OpWrite, Path: "app/c.tsx", Content: "c",
	}); err != nil {
		t.Errorf("mutation after release: %v", err)
	}
}

func TestRunSchemaRequiresBackend(t *testing.T) {
	h := setup(t)
	input := schema.Input{SQL: "CREATE TABLE notes (id UUID PRIMARY KEY)"}
	if _, err := h.engine.RunSchema(context.Background(), h.session.ID, input); err == nil {
		t.Error("schema run without a backend succeeded")
	}
}
