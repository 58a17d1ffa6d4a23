package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/weldcode/weld/pkg/failure"
	"github.com/weldcode/weld/pkg/retry"
	"github.com/weldcode/weld/pkg/stores"
	"github.com/weldcode/weld/pkg/telemetry"
)

// Input describes one provisioning request. Either SQL or Spec must be
// set; a CUE spec is rendered to DDL before the pipeline runs.
type Input struct {
	// SQL is raw DDL to execute.
	SQL string

	// Spec is a CUE storage spec document.
	Spec string
}

// Result is the outcome of a provisioning run.
type Result struct {
	// State is the final persisted schema state.
	State stores.SchemaState

	// Error is the user-facing message when State is error.
	Error string

	// Tables is the verified table list after a successful run.
	Tables []string
}

// Config controls the pipeline.
type Config struct {
	// InvalidateURL is the cache invalidation endpoint. Empty disables
	// invalidation.
	InvalidateURL string
}

// Pipeline drives schema provisioning: validate (dry run), execute under
// the schema retry budget, invalidate caches, verify. Every state
// transition is persisted on the session record before the next step runs.
type Pipeline struct {
	store   stores.Store
	client  *QueryClient
	config  Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewPipeline creates a provisioning pipeline.
func NewPipeline(store stores.Store, client *QueryClient, cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) *Pipeline {
	return &Pipeline{
		store:   store,
		client:  client,
		config:  cfg,
		logger:  logger.NewComponentLogger("schema"),
		metrics: metrics,
	}
}

// Run provisions the schema for a session. The returned Result carries the
// outcome for expected failures; an error return means the pipeline itself
// broke (for example, the session record could not be updated).
func (p *Pipeline) Run(ctx context.Context, sessionID string, input Input) (*Result, error) {
	start := time.Now()
	log := p.logger.WithSessionID(sessionID)

	sql, err := p.renderInput(input)
	if err != nil {
		return p.fail(ctx, sessionID, start, err.Error())
	}

	// Validate.
	if err := p.transition(ctx, sessionID, stores.SchemaStateValidating, nil); err != nil {
		return nil, err
	}
	if err := p.validate(ctx, sql); err != nil {
		f := failure.Classify(err)
		log.WithError(err).Warnf("schema validation failed (%s)", f.Kind)
		return p.fail(ctx, sessionID, start, f.Message)
	}
	log.Debug("schema validated")

	// Execute.
	if err := p.transition(ctx, sessionID, stores.SchemaStateExecuting, nil); err != nil {
		return nil, err
	}
	err = retry.Do(ctx, func(ctx context.Context) error {
		_, execErr := p.client.Execute(ctx, sql, false)
		return execErr
	}, p.retryBudget(sessionID))
	if err != nil {
		f := failure.Classify(err)
		log.WithError(err).Errorf("schema execution failed (%s)", f.Kind)
		return p.fail(ctx, sessionID, start, f.Message)
	}
	log.Info("schema executed")

	// Cache invalidation is best effort: the schema is already live.
	if p.config.InvalidateURL != "" {
		if err := p.client.InvalidateCache(ctx, p.config.InvalidateURL); err != nil {
			log.WithError(err).Warn("cache invalidation failed")
		}
	}

	// Verify.
	tables, err := p.client.ListTables(ctx)
	if err != nil {
		// The execute verdict stands; verification is advisory.
		log.WithError(err).Warn("schema verification query failed")
		if err := p.transition(ctx, sessionID, stores.SchemaStateSuccess, nil); err != nil {
			return nil, err
		}
		p.metrics.RecordSchemaRun(string(stores.SchemaStateSuccess), time.Since(start))
		return &Result{State: stores.SchemaStateSuccess}, nil
	}
	if len(tables) == 0 {
		log.Error("schema executed but no tables were created")
		return p.fail(ctx, sessionID, start, "schema executed but nothing was created")
	}

	if err := p.transition(ctx, sessionID, stores.SchemaStateSuccess, nil); err != nil {
		return nil, err
	}
	p.metrics.RecordSchemaRun(string(stores.SchemaStateSuccess), time.Since(start))
	log.WithField("tables", len(tables)).Info("schema provisioned")
	return &Result{State: stores.SchemaStateSuccess, Tables: tables}, nil
}

// renderInput produces the DDL to run.
func (p *Pipeline) renderInput(input Input) (string, error) {
	if input.SQL != "" {
		return input.SQL, nil
	}
	if input.Spec == "" {
		return "", fmt.Errorf("either SQL or a storage spec is required")
	}

	spec, err := ParseSpec(input.Spec)
	if err != nil {
		return "", err
	}
	statements, err := spec.RenderSQL()
	if err != nil {
		return "", err
	}
	return strings.Join(statements, "\n"), nil
}

// validate dry-runs the DDL. A read-only transaction rejection is the
// expected outcome for DDL under read_only and counts as a pass: the
// statement parsed and planned before the transaction refused to write.
// Transient failures get the fast budget before the run aborts; a
// non-retryable failure surfaces immediately.
func (p *Pipeline) validate(ctx context.Context, sql string) error {
	err := retry.Do(ctx, func(ctx context.Context) error {
		_, execErr := p.client.Execute(ctx, sql, true)
		return execErr
	}, retry.FastBudget())
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "read-only transaction") {
		return nil
	}
	return err
}

func (p *Pipeline) retryBudget(sessionID string) retry.Options {
	opts := retry.SchemaBudget()
	opts.OnRetry = func(attempt int, f *failure.Failure) {
		p.metrics.RecordRetry("schema_execute", string(f.Kind))
		p.logger.WithSessionID(sessionID).WithError(f).
			Warnf("schema execution attempt %d failed, retrying", attempt)
	}
	return opts
}

func (p *Pipeline) transition(ctx context.Context, sessionID string, state stores.SchemaState, msg *string) error {
	if err := p.store.UpdateSchemaState(ctx, sessionID, state, msg); err != nil {
		return fmt.Errorf("failed to persist schema state %s: %w", state, err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, sessionID string, start time.Time, msg string) (*Result, error) {
	if err := p.transition(ctx, sessionID, stores.SchemaStateError, &msg); err != nil {
		return nil, err
	}
	p.metrics.RecordSchemaRun(string(stores.SchemaStateError), time.Since(start))
	return &Result{State: stores.SchemaStateError, Error: msg}, nil
}
