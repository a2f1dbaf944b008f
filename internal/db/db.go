package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultDBName      = "plantdash.db"
	defaultOpenTimeout = 5 * time.Second
)

type Config struct {
	// Workspace holds .plantdash/plantdash.db unless Path is set.
	Workspace string
	// Path overrides the database file location.
	Path string
	// OpenTimeout bounds the initial connection check. Zero means 5s.
	OpenTimeout time.Duration
}

// StorageUnavailableError reports that the storage engine could not be opened.
// It is fatal to the handle being opened; callers decide whether to retry.
type StorageUnavailableError struct {
	Path string
	Err  error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable (%s): %v", e.Path, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

func dbPath(cfg Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".plantdash", defaultDBName)
}

// EnsureWorkspace creates the workspace data directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".plantdash")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database in WAL mode with a busy timeout and verifies the
// connection within cfg.OpenTimeout. Every failure is a *StorageUnavailableError.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := dbPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageUnavailableError{Path: path, Err: err}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageUnavailableError{Path: path, Err: err}
	}
	// One connection per handle; SQLite serialises writers anyway.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, &StorageUnavailableError{Path: path, Err: err}
	}
	return conn, nil
}

// Path returns the db path for the config.
func Path(cfg Config) string {
	return dbPath(cfg)
}
