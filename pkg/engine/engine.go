// Package engine orchestrates the mutation pipeline: it resolves sessions
// to live sandboxes, gates mutations through policy, applies file writes
// and patches with write-through snapshotting, and drives schema
// provisioning. One mutation per session runs at a time.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/weldcode/weld/pkg/failure"
	"github.com/weldcode/weld/pkg/patch"
	"github.com/weldcode/weld/pkg/policy"
	"github.com/weldcode/weld/pkg/sandbox"
	"github.com/weldcode/weld/pkg/schema"
	"github.com/weldcode/weld/pkg/snapshot"
	"github.com/weldcode/weld/pkg/stores"
	"github.com/weldcode/weld/pkg/telemetry"
)

// Engine is the outbound API of the mutation pipeline.
type Engine struct {
	store     stores.Store
	sandboxes *sandbox.Manager
	policies  *policy.Engine
	schemas   *schema.Pipeline
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	guard     *sessionGuard
}

// Options wires the engine's collaborators. Store, Sandboxes, Policies,
// Logger and Metrics are required; Schemas may be nil when no schema
// backend is configured, Tracer may be nil to disable spans.
type Options struct {
	Store     stores.Store
	Sandboxes *sandbox.Manager
	Policies  *policy.Engine
	Schemas   *schema.Pipeline
	Logger    *telemetry.Logger
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer
}

// New creates the orchestrator.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Sandboxes == nil || opts.Policies == nil {
		return nil, fmt.Errorf("store, sandbox manager and policy engine are required")
	}
	if opts.Logger == nil || opts.Metrics == nil {
		return nil, fmt.Errorf("logger and metrics are required")
	}
	return &Engine{
		store:     opts.Store,
		sandboxes: opts.Sandboxes,
		policies:  opts.Policies,
		schemas:   opts.Schemas,
		logger:    opts.Logger.NewComponentLogger("engine"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		guard:     newSessionGuard(),
	}, nil
}

// CreateSession creates a fresh session record with no sandbox attached.
func (e *Engine) CreateSession(ctx context.Context, appName string) (*stores.Session, error) {
	session := &stores.Session{
		ID:      uuid.New().String(),
		AppName: appName,
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.logger.WithSessionID(session.ID).WithField("app", appName).Info("session created")
	return session, nil
}

// ResolveResult describes the sandbox backing a session after resolution.
type ResolveResult struct {
	SessionID       string `json:"session_id"`
	SandboxID       string `json:"sandbox_id"`
	PreviewURL      string `json:"preview_url"`
	Recreated       bool   `json:"recreated"`
	Degraded        bool   `json:"degraded"`
	RestoreFailures int    `json:"restore_failures,omitempty"`
}

// ResolveSandbox resolves the session to a live sandbox, recreating and
// restoring from the snapshot when the previous sandbox is gone. The
// session record is updated with the resulting sandbox identity.
func (e *Engine) ResolveSandbox(ctx context.Context, sessionID string) (*ResolveResult, error) {
	release, err := e.guard.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, _, err := e.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer res.Sandbox.Close()

	return &ResolveResult{
		SessionID:       sessionID,
		SandboxID:       res.Handle.ID,
		PreviewURL:      res.Handle.PreviewURL,
		Recreated:       res.Recreated,
		Degraded:        res.Degraded,
		RestoreFailures: res.RestoreFailures,
	}, nil
}

// MutationOp is the kind of a single-file mutation.
type MutationOp string

const (
	OpWrite  MutationOp = "write"
	OpDelete MutationOp = "delete"
)

// MutationRequest is one file mutation.
type MutationRequest struct {
	Op      MutationOp `json:"op"`
	Path    string     `json:"path"`
	Content string     `json:"content,omitempty"`
}

// MutationResult is the structured outcome of a file mutation. A policy
// denial is an expected failure: Applied is false and Violations explains
// why, with a nil error.
type MutationResult struct {
	Applied    bool               `json:"applied"`
	Path       string             `json:"path"`
	PreviewURL string             `json:"preview_url,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

// MutateFile applies a single file write or delete: policy gate, sandbox
// resolution, sandbox mutation, then write-through snapshot update.
func (e *Engine) MutateFile(ctx context.Context, sessionID string, req MutationRequest) (*MutationResult, error) {
	release, err := e.guard.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	verdict, err := e.policies.EvaluateMutation(ctx, &policy.MutationInput{
		Operation: string(req.Op),
		Path:      req.Path,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if !verdict.Allowed {
		e.logger.WithSessionID(sessionID).WithPath(req.Path).
			Warnf("mutation blocked by policy (%d violations)", len(verdict.Violations))
		return &MutationResult{Path: req.Path, Violations: verdict.Violations}, nil
	}

	res, snap, err := e.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer res.Sandbox.Close()

	switch req.Op {
	case OpWrite:
		if err := res.Actions.WriteFile(ctx, req.Path, req.Content); err != nil {
			return nil, err
		}
		if err := snap.Write(ctx, req.Path, req.Content); err != nil {
			return nil, err
		}
	case OpDelete:
		if err := res.Actions.DeleteFile(ctx, req.Path); err != nil {
			return nil, err
		}
		if err := snap.Delete(ctx, req.Path); err != nil {
			return nil, err
		}
	default:
		return nil, failure.New(failure.KindSyntax,
			fmt.Sprintf("unknown mutation op %q", req.Op), nil)
	}

	e.logger.WithSessionID(sessionID).WithPath(req.Path).
		Infof("file %s applied", req.Op)
	return &MutationResult{
		Applied:    true,
		Path:       req.Path,
		PreviewURL: res.Handle.PreviewURL,
	}, nil
}

// PatchResult is the structured outcome of a patch batch.
type PatchResult struct {
	Applied    bool               `json:"applied"`
	Iterations int                `json:"iterations,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
	PreviewURL string             `json:"preview_url,omitempty"`
}

// ApplyPatch applies a batch of diffs through the validation loop and
// persists the results. Checker may be nil to skip compile checking;
// proposer may be nil to disable fix rounds. The batch is all-or-nothing:
// on any failure neither the sandbox nor the snapshot is touched.
func (e *Engine) ApplyPatch(ctx context.Context, sessionID string, diffs []*patch.FileDiff, checker patch.CompileChecker, proposer patch.FixProposer, opts patch.LoopOptions) (*PatchResult, error) {
	release, err := e.guard.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	for _, diff := range diffs {
		verdict, perr := e.policies.EvaluateMutation(ctx, &policy.MutationInput{
			Operation: "patch",
			Path:      diff.Path,
			SessionID: sessionID,
		})
		if perr != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", perr)
		}
		if !verdict.Allowed {
			e.metrics.RecordPatchApply("rejected")
			return &PatchResult{Violations: verdict.Violations}, nil
		}
	}

	res, snap, err := e.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer res.Sandbox.Close()

	ctx, span := e.startPatchSpan(ctx, sessionID, len(diffs))
	defer span.End()

	files, err := e.collectFiles(ctx, res.Actions, snap, diffs)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if checker == nil {
		checker = passChecker{}
	}
	loopResult, err := patch.ValidateAndApply(ctx, files, diffs, checker, proposer, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		e.metrics.RecordPatchApply(patchOutcome(err))
		return nil, err
	}
	e.metrics.RecordValidationIterations(loopResult.Iterations)

	// Persist only files the loop changed. Sandbox first, then snapshot, so
	// the present-means-durable invariant cannot claim a write the sandbox
	// never saw.
	for path, content := range loopResult.Files {
		if files[path] == content {
			continue
		}
		if err := res.Actions.WriteFile(ctx, path, content); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if err := snap.Write(ctx, path, content); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	telemetry.RecordSuccess(span)
	e.metrics.RecordPatchApply("applied")
	e.logger.WithSessionID(sessionID).
		WithField("files", len(diffs)).
		WithField("iterations", loopResult.Iterations).
		Info("patch batch applied")
	return &PatchResult{
		Applied:    true,
		Iterations: loopResult.Iterations,
		Warnings:   loopResult.Warnings,
		PreviewURL: res.Handle.PreviewURL,
	}, nil
}

// RunSchema drives the schema provisioning pipeline for the session.
func (e *Engine) RunSchema(ctx context.Context, sessionID string, input schema.Input) (*schema.Result, error) {
	if e.schemas == nil {
		return nil, fmt.Errorf("no schema backend configured")
	}

	release, err := e.guard.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	ctx, span := e.startSchemaSpan(ctx, sessionID)
	defer span.End()

	result, err := e.schemas.Run(ctx, sessionID, input)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if result.State == stores.SchemaStateError {
		span.SetAttributes(telemetry.AttrSchemaState.String(string(result.State)))
	} else {
		telemetry.RecordSuccess(span)
	}
	return result, nil
}

// GetSession returns the session record.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*stores.Session, error) {
	return e.store.GetSession(ctx, sessionID)
}

// resolve loads the session and its snapshot, resolves the sandbox, and
// persists the (possibly new) sandbox identity back onto the session.
func (e *Engine) resolve(ctx context.Context, sessionID string) (*sandbox.Resolution, *snapshot.Map, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}

	snap, err := snapshot.Load(ctx, sessionID, e.store)
	if err != nil {
		return nil, nil, err
	}

	existingID := ""
	if session.SandboxID != nil {
		existingID = *session.SandboxID
	}

	ctx, span := e.startResolveSpan(ctx, sessionID)
	defer span.End()
	start := time.Now()

	res, err := e.sandboxes.Resolve(ctx, existingID, snap)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	span.SetAttributes(
		telemetry.AttrSandboxID.String(res.Handle.ID),
		telemetry.AttrRecreated.Bool(res.Recreated),
	)
	telemetry.RecordSuccess(span)

	if res.Recreated || existingID == "" || session.PreviewURL != res.Handle.PreviewURL {
		id := res.Handle.ID
		if err := e.store.UpdateSessionSandbox(ctx, sessionID, &id, res.Handle.PreviewURL); err != nil {
			_ = res.Sandbox.Close()
			return nil, nil, fmt.Errorf("failed to persist sandbox identity: %w", err)
		}
	}

	e.logger.WithSessionID(sessionID).WithSandboxID(res.Handle.ID).
		WithField("recreated", res.Recreated).
		WithField("elapsed", time.Since(start).String()).
		Debug("sandbox resolved")
	return res, snap, nil
}

// collectFiles gathers current contents for every patched path: snapshot
// first, sandbox as fallback for files the generator has not snapshotted.
func (e *Engine) collectFiles(ctx context.Context, actions *sandbox.Actions, snap *snapshot.Map, diffs []*patch.FileDiff) (map[string]string, error) {
	files := make(map[string]string, len(diffs))
	for _, diff := range diffs {
		if _, ok := files[diff.Path]; ok {
			continue
		}
		if content, ok := snap.Get(diff.Path); ok {
			files[diff.Path] = content
			continue
		}
		content, err := actions.ReadFile(ctx, diff.Path)
		if err != nil {
			return nil, failure.New(failure.KindFileOperationFailed,
				fmt.Sprintf("cannot patch %s: file does not exist", diff.Path), err)
		}
		files[diff.Path] = content
	}
	return files, nil
}

// Span helpers tolerate a nil tracer: without one they hand back the
// non-recording span already on the context.

func (e *Engine) startResolveSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.StartResolveSpan(ctx, sessionID)
}

func (e *Engine) startPatchSpan(ctx context.Context, sessionID string, fileCount int) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.StartPatchSpan(ctx, sessionID, fileCount)
}

func (e *Engine) startSchemaSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.StartSchemaSpan(ctx, sessionID)
}

// patchOutcome maps a loop failure to a metrics label.
func patchOutcome(err error) string {
	if failure.KindOf(err) == failure.KindSyntax {
		return "stale"
	}
	return "rejected"
}

// passChecker accepts everything; used when no external compile check is
// configured.
type passChecker struct{}

func (passChecker) Check(context.Context, map[string]string) ([]patch.CompileError, error) {
	return nil, nil
}
