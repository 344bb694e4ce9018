package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go SQLite driver, registered as "sqlite"

	"github.com/nerrad567/vdba/internal/vdba"
)

// Engine names as registered with database/sql. They double as the vdba
// driver names.
const (
	// EngineMattn is github.com/mattn/go-sqlite3 (cgo).
	EngineMattn = "sqlite3"

	// EngineModernc is modernc.org/sqlite (pure Go).
	EngineModernc = "sqlite"
)

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	msPerSecond = 1000

	// connectionTimeout bounds the connectivity check on open.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute

	defaultBusyTimeout = 5

	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"
)

// Options is the parsed form of a connection config's options.
type Options struct {
	// Path is the filesystem path to the database file, or MemoryPath.
	// The directory is created if it doesn't exist (read-write only).
	Path string

	// WALMode enables Write-Ahead Logging. Ignored for read-only
	// connections, which never change the journal mode.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int

	// ReadOnly is set for readonly connections. The whole session then runs
	// with query_only enabled.
	ReadOnly bool
}

// ParseOptions reads path, wal_mode (default true) and busy_timeout
// (seconds, default 5) from cfg.
func ParseOptions(cfg vdba.ConnectionConfig) (Options, error) {
	path, _ := cfg.Option("path")
	if path == "" {
		return Options{}, fmt.Errorf("%w: option path is required", vdba.ErrUsage)
	}
	wal, err := cfg.BoolOption("wal_mode", true)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", vdba.ErrUsage, err)
	}
	busy, err := cfg.IntOption("busy_timeout", defaultBusyTimeout)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", vdba.ErrUsage, err)
	}
	if busy < 0 {
		return Options{}, fmt.Errorf("%w: option busy_timeout must not be negative", vdba.ErrUsage)
	}

	return Options{
		Path:        path,
		WALMode:     wal,
		BusyTimeout: busy,
		ReadOnly:    cfg.Mode() == vdba.ReadOnly,
	}, nil
}

// dsn builds the connection string for engine. The two drivers spell
// pragmas differently:
//   - mattn: https://github.com/mattn/go-sqlite3#connection-string
//   - modernc: repeated _pragma=name(value) parameters
func dsn(engine string, o Options) string {
	q := url.Values{}
	busyMillis := strconv.Itoa(o.BusyTimeout * msPerSecond)

	switch engine {
	case EngineModernc:
		q.Add("_pragma", "busy_timeout("+busyMillis+")")
		q.Add("_pragma", "foreign_keys(1)")
		if o.ReadOnly {
			q.Add("_pragma", "query_only(1)")
		} else if o.WALMode {
			q.Add("_pragma", "journal_mode(WAL)")
			q.Add("_pragma", "synchronous(NORMAL)")
		}
	default:
		q.Set("_busy_timeout", busyMillis)
		q.Set("_foreign_keys", "on")
		if o.ReadOnly {
			q.Set("_query_only", "true")
		} else if o.WALMode {
			q.Set("_journal_mode", "WAL")
			q.Set("_synchronous", "NORMAL")
		}
	}

	return "file:" + o.Path + "?" + q.Encode()
}

// openDB opens and verifies a pool for o.
//
// It performs the following setup:
//  1. Creates the database directory (read-write), or checks the file
//     exists (read-only)
//  2. Opens the pool with pragmas in the connection string
//  3. Limits the pool to a single connection
//  4. Verifies the connection with a ping
//  5. Sets file permissions to 0600
func openDB(ctx context.Context, engine string, o Options) (*sqlx.DB, error) {
	memory := o.Path == MemoryPath

	if !memory {
		if o.ReadOnly {
			if _, err := os.Stat(o.Path); err != nil {
				return nil, fmt.Errorf("opening read-only database: %w", err)
			}
		} else if err := os.MkdirAll(filepath.Dir(o.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open(engine, dsn(engine, o))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite has a single writer, and per-connection
	// pragmas (query_only) must apply to every statement of the session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !memory {
		// An in-memory database lives and dies with its connection.
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(connMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if !memory && !o.ReadOnly {
		_ = os.Chmod(o.Path, filePermissions) //nolint:errcheck // File may appear only after the first write
	}

	return db, nil
}
