package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anyback-go/internal/anyback"
	"anyback-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath is the path that opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteDatabase stores the job history, and optionally the sqlite space
// store, in a single SQLite file.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: opens a fresh database.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if path != MemoryPath {
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	return db, nil
}

// DB returns the underlying connection pool.
func (s *SQLiteDatabase) DB() *sql.DB {
	return s.db
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies all pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// Operation history

func (s *SQLiteDatabase) CreateOperation(runID, operation, parameters string, startedAt time.Time) (*anyback.Operation, error) {
	res, err := s.db.Exec(
		`INSERT INTO operations (run_id, operation, parameters, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		runID, operation, parameters, startedAt.UnixNano(), anyback.StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &anyback.Operation{
		ID:         id,
		RunID:      runID,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt,
		Status:     anyback.StatusRunning,
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status, summary string, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE operations SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		status, summary, finishedAt.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: operation %d", anyback.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*anyback.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, run_id, operation, parameters, started_at, finished_at, status, summary
		 FROM operations ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*anyback.Operation
	for rows.Next() {
		var (
			op       anyback.Operation
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.RunID, &op.Operation, &op.Parameters, &started, &finished, &op.Status, &op.Summary); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt = time.Unix(0, started)
		if finished.Valid {
			t := time.Unix(0, finished.Int64)
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements anyback.History
var _ anyback.History = (*SQLiteDatabase)(nil)
