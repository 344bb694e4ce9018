package sqlite

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Migration filename parsing constants.
const (
	// migrationFilenameParts is the number of parts in a migration filename.
	// Format: YYYYMMDD_HHMMSS_description.up.sql
	migrationFilenameParts = 3

	// minVersionParts is the minimum parts needed to extract a version.
	minVersionParts = 2
)

// Migration is a single schema migration.
type Migration struct {
	// Version is extracted from the filename (YYYYMMDD_HHMMSS).
	Version string

	// Name is the description part of the filename.
	Name string

	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrator applies the .up.sql / .down.sql pairs found in Dir of FS.
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql. Applied versions are recorded in schema_migrations.
type Migrator struct {
	FS  fs.FS
	Dir string
}

// Migrate applies all pending migrations from dir of fsys to db.
func Migrate(ctx context.Context, db *Database, fsys fs.FS, dir string) error {
	return Migrator{FS: fsys, Dir: dir}.Up(ctx, db)
}

// Up applies all pending migrations in version order.
//
// On a session handle each migration runs in its own transaction: if
// migration N fails, 1..N-1 stay committed and re-running continues from N.
// On a transaction handle all of them share the enclosing transaction.
func (m Migrator) Up(ctx context.Context, db *Database) error {
	if err := db.inTx(ctx, createMigrationsTable(ctx)); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := m.load()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if len(migrations) == 0 {
		return nil
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}

	for _, mig := range migrations {
		if done[mig.Version] {
			continue
		}
		if err := db.inTx(ctx, applyMigration(ctx, mig)); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m Migrator) Down(ctx context.Context, db *Database) error {
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := m.load()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	var target *Migration
	for i := range migrations {
		if migrations[i].Version == latest.Version {
			target = &migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %s not found in filesystem", latest.Version)
	}
	if target.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", latest.Version)
	}

	return db.inTx(ctx, func(ext sqlx.ExtContext) error {
		if _, err := ext.ExecContext(ctx, target.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		if _, err := ext.ExecContext(ctx,
			"DELETE FROM schema_migrations WHERE version = ?", target.Version,
		); err != nil {
			return fmt.Errorf("removing migration record: %w", err)
		}
		return nil
	})
}

// Status returns the applied and pending migrations.
func (m Migrator) Status(ctx context.Context, db *Database) (applied []MigrationRecord, pending []Migration, err error) {
	if err := db.inTx(ctx, createMigrationsTable(ctx)); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}
	applied, err = appliedMigrations(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	migrations, err := m.load()
	if err != nil {
		return nil, nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	for _, mig := range migrations {
		if !done[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

func createMigrationsTable(ctx context.Context) func(sqlx.ExtContext) error {
	return func(ext sqlx.ExtContext) error {
		_, err := ext.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TEXT NOT NULL
			)
		`)
		return err
	}
}

func applyMigration(ctx context.Context, m Migration) func(sqlx.ExtContext) error {
	return func(ext sqlx.ExtContext) error {
		if _, err := ext.ExecContext(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}
		if _, err := ext.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version,
			time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	}
}

func appliedMigrations(ctx context.Context, db *Database) ([]MigrationRecord, error) {
	var rows []struct {
		Version   string `db:"version"`
		AppliedAt string `db:"applied_at"`
	}
	if err := db.SelectContext(ctx, &rows,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version",
	); err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}

	records := make([]MigrationRecord, 0, len(rows))
	for _, r := range rows {
		appliedAt, _ := time.Parse(time.RFC3339, r.AppliedAt) //nolint:errcheck // Format is controlled
		records = append(records, MigrationRecord{Version: r.Version, AppliedAt: appliedAt})
	}
	return records, nil
}

// load reads all migrations from the filesystem, oldest first. A missing
// directory means no migrations.
func (m Migrator) load() ([]Migration, error) {
	if m.FS == nil {
		return nil, nil
	}
	dir := m.Dir
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(m.FS, dir)
	if err != nil {
		return nil, nil //nolint:nilerr // Directory may not exist when there are no migrations
	}

	upFiles := make(map[string]string)
	downFiles := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, isUp, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		if isUp {
			upFiles[version] = entry.Name()
		} else {
			downFiles[version] = entry.Name()
		}
	}

	migrations := make([]Migration, 0, len(upFiles))
	for version, upFile := range upFiles {
		mig, err := m.read(dir, version, upFile, downFiles[version])
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m Migrator) read(dir, version, upFile, downFile string) (Migration, error) {
	upSQL, err := fs.ReadFile(m.FS, path.Join(dir, upFile))
	if err != nil {
		return Migration{}, fmt.Errorf("reading %s: %w", upFile, err)
	}
	mig := Migration{
		Version: version,
		Name:    extractMigrationName(upFile),
		UpSQL:   string(upSQL),
	}
	if downFile != "" {
		downSQL, err := fs.ReadFile(m.FS, path.Join(dir, downFile))
		if err != nil {
			return Migration{}, fmt.Errorf("reading %s: %w", downFile, err)
		}
		mig.DownSQL = string(downSQL)
	}
	return mig, nil
}

// parseMigrationFilename extracts version and direction from a filename.
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", false, false
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		isUp = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", false, false
	}

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) < minVersionParts {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], isUp, true
}

// extractMigrationName returns the description part of a filename.
// Example: "20260118_120000_initial_schema.up.sql" -> "initial_schema"
func extractMigrationName(filename string) string {
	base := strings.TrimSuffix(filename, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) >= migrationFilenameParts {
		return parts[minVersionParts]
	}
	return base
}
