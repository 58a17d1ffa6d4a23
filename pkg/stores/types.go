package stores

import (
	"context"
	"errors"
	"time"
)

// SchemaState represents the provisioning state attached to a session.
// Transitions are monotonic forward except for error, from which a fresh
// provisioning attempt restarts at validating.
type SchemaState string

const (
	SchemaStateNone       SchemaState = ""
	SchemaStateValidating SchemaState = "validating"
	SchemaStateExecuting  SchemaState = "executing"
	SchemaStateSuccess    SchemaState = "success"
	SchemaStateError      SchemaState = "error"
)

// Session is the long-lived record for one generation session. It is the
// only state that outlives a single mutation request.
type Session struct {
	ID          string      `json:"id"`
	AppName     string      `json:"app_name"`
	SandboxID   *string     `json:"sandbox_id,omitempty"`
	PreviewURL  string      `json:"preview_url"`
	SchemaState SchemaState `json:"schema_state"`
	SchemaError *string     `json:"schema_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SnapshotFile is one entry of a session's file snapshot: the last content
// durably persisted for a path. A path absent from the store means
// "unknown, fetch from sandbox".
type SnapshotFile struct {
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the persistence layer for sessions and file snapshots.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionSandbox(ctx context.Context, id string, sandboxID *string, previewURL string) error
	UpdateSchemaState(ctx context.Context, id string, state SchemaState, schemaErr *string) error
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	RemoveSession(ctx context.Context, id string) error

	// Snapshot file operations
	UpsertFile(ctx context.Context, file *SnapshotFile) error
	GetFile(ctx context.Context, sessionID, path string) (*SnapshotFile, error)
	ListFiles(ctx context.Context, sessionID string) ([]*SnapshotFile, error)
	RemoveFile(ctx context.Context, sessionID, path string) error

	// Utility
	HealthCheck(ctx context.Context) error
}

// NotFoundError is returned by Get operations when no record matches.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found: " + e.ID
}

// IsNotFound reports whether err is a store not-found error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
