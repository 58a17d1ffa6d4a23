// Package stores provides the durable persistence layer for sessions and
// file snapshots, backed by SQLite.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	query := `
		INSERT INTO sessions (id, app_name, sandbox_id, preview_url, schema_state, schema_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.AppName,
		session.SandboxID,
		session.PreviewURL,
		session.SchemaState,
		session.SchemaError,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, app_name, sandbox_id, preview_url, schema_state, schema_error, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`
	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.AppName,
		&session.SandboxID,
		&session.PreviewURL,
		&session.SchemaState,
		&session.SchemaError,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// UpdateSessionSandbox updates the sandbox identity and preview URL of a
// session after resolution.
func (s *SQLiteStore) UpdateSessionSandbox(ctx context.Context, id string, sandboxID *string, previewURL string) error {
	query := `
		UPDATE sessions
		SET sandbox_id = ?, preview_url = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, sandboxID, previewURL, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session sandbox: %w", err)
	}
	return checkAffected(result, "session", id)
}

// UpdateSchemaState updates the schema provisioning state of a session.
func (s *SQLiteStore) UpdateSchemaState(ctx context.Context, id string, state SchemaState, schemaErr *string) error {
	query := `
		UPDATE sessions
		SET schema_state = ?, schema_error = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, state, schemaErr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update schema state: %w", err)
	}
	return checkAffected(result, "session", id)
}

// ListSessions lists sessions with pagination, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `
		SELECT id, app_name, sandbox_id, preview_url, schema_state, schema_error, created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(
			&session.ID,
			&session.AppName,
			&session.SandboxID,
			&session.PreviewURL,
			&session.SchemaState,
			&session.SchemaError,
			&session.CreatedAt,
			&session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// RemoveSession deletes a session and, via cascade, its snapshot files.
func (s *SQLiteStore) RemoveSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return checkAffected(result, "session", id)
}

// UpsertFile inserts or replaces a snapshot file entry.
func (s *SQLiteStore) UpsertFile(ctx context.Context, file *SnapshotFile) error {
	file.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO snapshot_files (session_id, path, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, file.SessionID, file.Path, file.Content, file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot file: %w", err)
	}
	return nil
}

// GetFile retrieves a snapshot file by session and path.
func (s *SQLiteStore) GetFile(ctx context.Context, sessionID, path string) (*SnapshotFile, error) {
	query := `
		SELECT session_id, path, content, updated_at
		FROM snapshot_files
		WHERE session_id = ? AND path = ?
	`
	file := &SnapshotFile{}
	err := s.db.QueryRowContext(ctx, query, sessionID, path).Scan(
		&file.SessionID,
		&file.Path,
		&file.Content,
		&file.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "snapshot file", ID: path}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot file: %w", err)
	}
	return file, nil
}

// ListFiles lists all snapshot files for a session, ordered by path.
func (s *SQLiteStore) ListFiles(ctx context.Context, sessionID string) ([]*SnapshotFile, error) {
	query := `
		SELECT session_id, path, content, updated_at
		FROM snapshot_files
		WHERE session_id = ?
		ORDER BY path
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot files: %w", err)
	}
	defer rows.Close()

	files := []*SnapshotFile{}
	for rows.Next() {
		file := &SnapshotFile{}
		if err := rows.Scan(&file.SessionID, &file.Path, &file.Content, &file.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// RemoveFile deletes a snapshot file entry.
func (s *SQLiteStore) RemoveFile(ctx context.Context, sessionID, path string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshot_files WHERE session_id = ? AND path = ?`, sessionID, path)
	if err != nil {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	return checkAffected(result, "snapshot file", path)
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// checkAffected converts a zero-row update/delete into a NotFoundError.
func checkAffected(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
