package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/weldcode/weld/pkg/failure"
	"github.com/weldcode/weld/pkg/retry"
	"github.com/weldcode/weld/pkg/snapshot"
	"github.com/weldcode/weld/pkg/telemetry"
)

// Config controls sandbox resolution and recreation.
type Config struct {
	// Template is the provider template new sandboxes are created from.
	Template string

	// ProjectDir is the project root inside the sandbox.
	ProjectDir string

	// PreviewPort is the dev server port exposed as the preview URL.
	PreviewPort int

	// CreateTimeout bounds sandbox provisioning.
	CreateTimeout time.Duration

	// StabilizePause is how long to wait after restarting the dev server
	// before declaring the sandbox ready.
	StabilizePause time.Duration

	// ScaffoldFiles are template files removed from fresh sandboxes before
	// session state is restored.
	ScaffoldFiles []string

	// DegradedFraction is the share of failed snapshot replays above which
	// a restore is reported as degraded.
	DegradedFraction float64

	// DegradedMinFailures is the minimum absolute failure count for a
	// degraded restore; a single flake on a small snapshot is not degraded.
	DegradedMinFailures int
}

// DefaultConfig returns the standard resolution configuration.
func DefaultConfig() Config {
	return Config{
		Template:            "nextjs16-tailwind4",
		ProjectDir:          "/home/user",
		PreviewPort:         3000,
		CreateTimeout:       10 * time.Minute,
		StabilizePause:      3 * time.Second,
		ScaffoldFiles:       []string{"app/page.tsx", "components/ui/resizable.tsx"},
		DegradedFraction:    0.4,
		DegradedMinFailures: 2,
	}
}

// Resolution is the result of resolving a session to a live sandbox.
type Resolution struct {
	// Sandbox is the live connection.
	Sandbox Sandbox

	// Actions wraps Sandbox with session-relative operations.
	Actions *Actions

	// Handle is the caller-facing description of the sandbox.
	Handle Handle

	// Recreated reports whether a fresh sandbox was provisioned, either
	// because reconnection failed or because the session had none. The
	// caller must persist the new identity.
	Recreated bool

	// Degraded reports whether the snapshot restore lost a significant
	// share of entries. The sandbox is still usable.
	Degraded bool

	// RestoreFailures is the number of snapshot entries that could not be
	// replayed into the recreated sandbox.
	RestoreFailures int
}

// Manager resolves sessions to live sandboxes: reconnect when possible,
// recreate and restore when not.
type Manager struct {
	provider Provider
	config   Config
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewManager creates a sandbox lifecycle manager. Zero config fields are
// filled from DefaultConfig, so a partial config keeps the standard
// timeouts and thresholds.
func NewManager(provider Provider, cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) *Manager {
	def := DefaultConfig()
	if cfg.Template == "" {
		cfg.Template = def.Template
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = def.ProjectDir
	}
	if cfg.PreviewPort == 0 {
		cfg.PreviewPort = def.PreviewPort
	}
	if cfg.CreateTimeout == 0 {
		cfg.CreateTimeout = def.CreateTimeout
	}
	if cfg.StabilizePause == 0 {
		cfg.StabilizePause = def.StabilizePause
	}
	if cfg.ScaffoldFiles == nil {
		cfg.ScaffoldFiles = def.ScaffoldFiles
	}
	if cfg.DegradedFraction == 0 {
		cfg.DegradedFraction = def.DegradedFraction
	}
	if cfg.DegradedMinFailures == 0 {
		cfg.DegradedMinFailures = def.DegradedMinFailures
	}
	return &Manager{
		provider: provider,
		config:   cfg,
		logger:   logger.NewComponentLogger("sandbox"),
		metrics:  metrics,
	}
}

// Resolve produces a live sandbox for the session. When existingID is
// non-empty it first tries to reconnect under the fast budget; if that
// fails, or there is no existing sandbox, it creates a fresh one and
// replays the snapshot into it. The returned error on total failure is the
// provider's own error, not a wrapper.
func (m *Manager) Resolve(ctx context.Context, existingID string, snap *snapshot.Map) (*Resolution, error) {
	start := time.Now()
	log := m.logger
	if snap != nil {
		log = log.WithSessionID(snap.SessionID())
	}

	if existingID != "" {
		sb, err := m.reconnect(ctx, existingID)
		if err == nil {
			res, herr := m.finish(sb, false, 0, snap)
			if herr != nil {
				m.metrics.RecordResolve("failed", false, time.Since(start))
				return nil, herr
			}
			log.WithSandboxID(existingID).Info("reconnected to existing sandbox")
			m.metrics.RecordResolve("connected", false, time.Since(start))
			return res, nil
		}
		f := failure.Classify(err)
		m.metrics.RecordFailure(string(f.Kind), f.Retryable)
		log.WithSandboxID(existingID).WithError(err).
			Warnf("reconnection failed (%s), recreating sandbox", f.Kind)
	}

	sb, restoreFailures, err := m.recreate(ctx, snap, log)
	if err != nil {
		m.metrics.RecordResolve("failed", true, time.Since(start))
		return nil, err
	}

	res, err := m.finish(sb, true, restoreFailures, snap)
	if err != nil {
		m.metrics.RecordResolve("failed", true, time.Since(start))
		return nil, err
	}
	m.metrics.RecordResolve("recreated", true, time.Since(start))
	log.WithSandboxID(sb.ID()).
		WithField("restore_failures", restoreFailures).
		WithField("degraded", res.Degraded).
		Info("sandbox recreated")
	return res, nil
}

// reconnect attaches to an existing sandbox and probes it with a trivial
// round trip. The fast budget keeps a dead sandbox from stalling the
// caller: two attempts and we fall back to recreation.
func (m *Manager) reconnect(ctx context.Context, id string) (Sandbox, error) {
	return retry.DoValue(ctx, func(ctx context.Context) (Sandbox, error) {
		sb, err := m.provider.Connect(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := sb.RunCommand(ctx, "true", RunOptions{Timeout: 10 * time.Second}); err != nil {
			_ = sb.Close()
			return nil, failure.New(failure.KindConnectionFailed, "sandbox not responsive", err)
		}
		return sb, nil
	}, retry.FastBudget())
}

// recreate provisions a fresh sandbox, strips template scaffold, replays
// the snapshot, reinstalls dependencies, and restarts the dev server.
func (m *Manager) recreate(ctx context.Context, snap *snapshot.Map, log *telemetry.Logger) (Sandbox, int, error) {
	sb, err := m.provider.Create(ctx, m.config.Template, m.config.CreateTimeout)
	if err != nil {
		return nil, 0, err
	}
	log = log.WithSandboxID(sb.ID())

	actions := NewActions(sb, m.config.ProjectDir)
	m.stripScaffold(ctx, actions, log)

	restoreFailures := 0
	if snap != nil && snap.Len() > 0 {
		restoreFailures = m.restore(ctx, actions, snap, log)
		if err := m.reinstallDeps(ctx, actions, snap, log); err != nil {
			_ = sb.Close()
			return nil, restoreFailures, err
		}
		m.restartDevServer(ctx, actions, log)
	}

	return sb, restoreFailures, nil
}

// stripScaffold removes template placeholder files that would collide with
// restored session files. Missing files are fine.
func (m *Manager) stripScaffold(ctx context.Context, actions *Actions, log *telemetry.Logger) {
	for _, rel := range m.config.ScaffoldFiles {
		cmd := fmt.Sprintf("rm -f %s", shellQuote(actions.Abs(rel)))
		if _, err := actions.Run(ctx, cmd, RunOptions{}); err != nil {
			log.WithPath(rel).WithError(err).Debug("scaffold cleanup failed")
		}
	}
}

// restore replays every snapshot entry into the sandbox. Individual
// failures are logged and skipped; the count is returned so the caller can
// judge whether the restore is degraded.
func (m *Manager) restore(ctx context.Context, actions *Actions, snap *snapshot.Map, log *telemetry.Logger) int {
	failures := 0
	for _, rel := range snap.Paths() {
		content, _ := snap.Get(rel)
		if err := actions.WriteFile(ctx, rel, content); err != nil {
			failures++
			m.metrics.RecordRestoreFailure()
			log.WithPath(rel).WithError(err).Warn("failed to restore snapshot entry")
		}
	}
	if failures > 0 {
		log.Warnf("restored %d/%d snapshot entries", snap.Len()-failures, snap.Len())
	}
	return failures
}

// reinstallDeps runs npm install when the snapshot carries a manifest. A
// peer-dependency resolution conflict gets one retry with legacy
// resolution before the failure propagates.
func (m *Manager) reinstallDeps(ctx context.Context, actions *Actions, snap *snapshot.Map, log *telemetry.Logger) error {
	if _, ok := snap.Get("package.json"); !ok {
		return nil
	}

	result, err := actions.Run(ctx, "npm install", RunOptions{Timeout: 5 * time.Minute})
	if err != nil {
		return failure.New(failure.KindCommandFailed, "npm install failed", err)
	}
	if result.ExitCode == 0 {
		return nil
	}

	if strings.Contains(result.Stderr, "ERESOLVE") {
		log.Warn("dependency resolution conflict, retrying with legacy peer deps")
		result, err = actions.Run(ctx, "npm install --legacy-peer-deps", RunOptions{Timeout: 5 * time.Minute})
		if err != nil {
			return failure.New(failure.KindCommandFailed, "npm install failed", err)
		}
		if result.ExitCode == 0 {
			return nil
		}
	}

	return failure.New(failure.KindCommandFailed,
		fmt.Sprintf("npm install exited with code %d: %s", result.ExitCode, truncate(result.Stderr, 500)), nil)
}

// restartDevServer bounces the dev server so it picks up restored files.
// pkill failing (no matching process, or the signal racing process exit)
// is expected noise, not an error.
func (m *Manager) restartDevServer(ctx context.Context, actions *Actions, log *telemetry.Logger) {
	if _, err := actions.Run(ctx, `pkill -f "next dev"`, RunOptions{Timeout: 10 * time.Second}); err != nil {
		log.WithError(err).Debug("dev server process kill reported an error")
	}
	cmd := "nohup npm run dev > /tmp/weld-dev.log 2>&1 &"
	if _, err := actions.Run(ctx, cmd, RunOptions{Timeout: 30 * time.Second}); err != nil {
		log.WithError(err).Warn("failed to restart dev server")
		return
	}

	select {
	case <-time.After(m.config.StabilizePause):
	case <-ctx.Done():
	}
}

// finish assembles the resolution and persists nothing: the caller owns
// durable session state.
func (m *Manager) finish(sb Sandbox, recreated bool, restoreFailures int, snap *snapshot.Map) (*Resolution, error) {
	previewURL, err := sb.Host(m.config.PreviewPort)
	if err != nil {
		_ = sb.Close()
		return nil, failure.New(failure.KindServerError, "failed to resolve preview host", err)
	}

	degraded := false
	if recreated && snap != nil && snap.Len() > 0 && restoreFailures >= m.config.DegradedMinFailures {
		if float64(restoreFailures)/float64(snap.Len()) > m.config.DegradedFraction {
			degraded = true
		}
	}

	return &Resolution{
		Sandbox: sb,
		Actions: NewActions(sb, m.config.ProjectDir),
		Handle: Handle{
			ID:         sb.ID(),
			Reachable:  true,
			PreviewURL: previewURL,
		},
		Recreated:       recreated,
		Degraded:        degraded,
		RestoreFailures: restoreFailures,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
