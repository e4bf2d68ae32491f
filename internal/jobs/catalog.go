package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current catalog schema version. Bump it when the
// schema changes; stale databases are rejected rather than migrated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the catalog was written by a different version.
var ErrSchemaMismatch = errors.New("catalog schema version mismatch")

// Catalog persists job records in SQLite so tracking survives restarts.
type Catalog struct {
	db   *sql.DB
	path string
}

// OpenCatalog opens or creates the catalog database under dir.
func OpenCatalog(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure jobs directory: %w", err)
	}

	dbPath := filepath.Join(dir, "catalog.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	catalog := &Catalog{db: db, path: dbPath}
	if err := catalog.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return catalog, nil
}

// Path returns the database file location.
func (c *Catalog) Path() string {
	return c.path
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) initSchema(ctx context.Context) error {
	var tableExists int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return c.createSchema(ctx)
	}

	var version int
	if err := c.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset)",
			ErrSchemaMismatch, version, schemaVersion, c.path)
	}
	return nil
}

func (c *Catalog) createSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

const jobColumns = `id, state, fingerprint, base_name, settings_toml, retries,
    last_polled, last_error, result_dir, created_at, updated_at`

// Save upserts a record.
func (c *Catalog) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("save job: id required")
	}
	var lastPolled any
	if !rec.LastPolled.IsZero() {
		lastPolled = rec.LastPolled.UTC().Format(time.RFC3339Nano)
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             state = excluded.state,
             fingerprint = excluded.fingerprint,
             base_name = excluded.base_name,
             settings_toml = excluded.settings_toml,
             retries = excluded.retries,
             last_polled = excluded.last_polled,
             last_error = excluded.last_error,
             result_dir = excluded.result_dir,
             updated_at = excluded.updated_at`,
		rec.ID,
		string(rec.State),
		rec.Fingerprint,
		rec.BaseName,
		rec.SettingsTOML,
		rec.Retries,
		lastPolled,
		rec.LastError,
		rec.ResultDir,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

// Get fetches one record by id. Unknown ids yield ErrUnknownJob.
func (c *Catalog) Get(ctx context.Context, id string) (Record, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get job %s: %w", id, ErrUnknownJob)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

// List returns records filtered by state, or all records when no state is
// given, ordered by creation time.
func (c *Catalog) List(ctx context.Context, states ...State) ([]Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		query += ` WHERE state IN (?` + repeatPlaceholder(len(states)-1) + `)`
		for _, state := range states {
			args = append(args, string(state))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Active returns records whose jobs still need polling.
func (c *Catalog) Active(ctx context.Context) ([]Record, error) {
	return c.List(ctx, StateSubmitted, StateQueued, StateRunning)
}

// FindByFingerprint returns the job tracking the given request content, if any.
func (c *Catalog) FindByFingerprint(ctx context.Context, fingerprint string) (Record, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE fingerprint = ? ORDER BY created_at LIMIT 1`, fingerprint)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("find job by fingerprint: %w", err)
	}
	return rec, true, nil
}

// Delete removes a record.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Record, error) {
	var (
		rec        Record
		state      string
		lastPolled sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&rec.ID,
		&state,
		&rec.Fingerprint,
		&rec.BaseName,
		&rec.SettingsTOML,
		&rec.Retries,
		&lastPolled,
		&rec.LastError,
		&rec.ResultDir,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	parsed, err := ParseState(state)
	if err != nil {
		return Record{}, err
	}
	rec.State = parsed

	if lastPolled.Valid && lastPolled.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastPolled.String); err == nil {
			rec.LastPolled = t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
