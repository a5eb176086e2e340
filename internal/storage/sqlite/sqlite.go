// Package sqlite provides the SQLite-backed implementation of the storage
// sessions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/ledger/internal/storage"
)

// Options configures the connection pool.
type Options struct {
	// DSN is a file path, optionally prefixed with "sqlite://" or "file:".
	DSN string

	// PoolSize is the number of connections kept idle in the pool.
	PoolSize int

	// MaxOverflow is how many connections may be opened beyond PoolSize.
	MaxOverflow int

	// Recycle closes connections older than this. Zero keeps them forever.
	Recycle time.Duration

	// PoolTimeout bounds the wait for a free connection. Zero waits until
	// the caller's context ends.
	PoolTimeout time.Duration

	Logger *slog.Logger
}

// DB is the connection pool sessions draw from.
type DB struct {
	db          *sql.DB
	poolTimeout time.Duration
	logger      *slog.Logger
}

// Open opens the database described by opts and verifies the connection.
// Foreign keys, WAL and a busy timeout are enabled on every connection.
func Open(opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn, err := buildDSN(opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	poolSize := max(opts.PoolSize, 1)
	db.SetMaxOpenConns(poolSize + max(opts.MaxOverflow, 0))
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(opts.Recycle)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Debug("Database connection established",
		"dsn", opts.DSN,
		"pool_size", poolSize,
		"max_overflow", opts.MaxOverflow,
		"recycle", opts.Recycle,
	)

	return &DB{db: db, poolTimeout: opts.PoolTimeout, logger: logger}, nil
}

// buildDSN turns a configured database URL into a modernc DSN, creating the
// parent directory of the database file.
func buildDSN(raw string) (string, error) {
	path := strings.TrimPrefix(raw, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return "", fmt.Errorf("database path is empty")
	}

	var query string
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	pragmas := "_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if query != "" {
		pragmas = query + "&" + pragmas
	}
	return "file:" + path + "?" + pragmas, nil
}

// Close closes every pooled connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// Stats returns connection pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.db.Stats()
}

// NewSession returns a session that acquires a connection on first use.
func (db *DB) NewSession() *Session {
	return &Session{db: db}
}

// conn takes a connection out of the pool, waiting at most poolTimeout.
func (db *DB) conn(ctx context.Context) (*sql.Conn, error) {
	if db.poolTimeout <= 0 {
		return db.db.Conn(ctx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, db.poolTimeout)
	defer cancel()

	conn, err := db.db.Conn(waitCtx)
	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		return nil, fmt.Errorf("%w after %s", storage.ErrPoolTimeout, db.poolTimeout)
	}
	return conn, err
}
