package sqlite

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/vdba/internal/vdba"
)

var engines = []string{EngineMattn, EngineModernc}

type user struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// openTestConn opens a connection on engine and creates the users table
// when mode is readwrite.
func openTestConn(t *testing.T, engine string, mode vdba.Mode, path string) (*vdba.Connection, *Database) {
	t.Helper()
	cfg := vdba.MustConnectionConfig(engine, mode, map[string]string{"path": path, "busy_timeout": "1"})
	conn, err := vdba.NewConnection(New(engine), cfg)
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := conn.Open(ctx)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close(context.Background()) }) //nolint:errcheck // Test cleanup

	sqlDB, err := vdba.As[*Database](db)
	if err != nil {
		t.Fatalf("As() error = %v", err)
	}
	if mode == vdba.ReadWrite {
		if _, err := sqlDB.ExecContext(ctx,
			"CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)",
		); err != nil {
			t.Fatalf("creating table: %v", err)
		}
	}
	return conn, sqlDB
}

func insertUser(name string) vdba.Operation {
	return func(ctx context.Context, db vdba.Database) error {
		sqlDB, err := vdba.As[*Database](db)
		if err != nil {
			return err
		}
		_, err = sqlDB.NamedExecContext(ctx, "INSERT INTO users (name) VALUES (:name)", user{Name: name})
		return err
	}
}

func countUsers(t *testing.T, db *Database) int {
	t.Helper()
	var n int
	if err := db.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM users"); err != nil {
		t.Fatalf("counting users: %v", err)
	}
	return n
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    map[string]string
		mode    vdba.Mode
		want    Options
		wantErr bool
	}{
		{
			name: "defaults",
			opts: map[string]string{"path": "/var/lib/vdba/a.db"},
			mode: vdba.ReadWrite,
			want: Options{Path: "/var/lib/vdba/a.db", WALMode: true, BusyTimeout: 5},
		},
		{
			name: "explicit readonly",
			opts: map[string]string{"path": "a.db", "wal_mode": "false", "busy_timeout": "10"},
			mode: vdba.ReadOnly,
			want: Options{Path: "a.db", BusyTimeout: 10, ReadOnly: true},
		},
		{name: "missing path", opts: map[string]string{}, mode: vdba.ReadWrite, wantErr: true},
		{name: "bad wal_mode", opts: map[string]string{"path": "a.db", "wal_mode": "sometimes"}, mode: vdba.ReadWrite, wantErr: true},
		{name: "negative busy_timeout", opts: map[string]string{"path": "a.db", "busy_timeout": "-1"}, mode: vdba.ReadWrite, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(vdba.MustConnectionConfig(EngineMattn, tt.mode, tt.opts))
			if tt.wantErr {
				if !vdba.IsUsageFault(err) {
					t.Fatalf("ParseOptions() error = %v, want usage fault", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOptions() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseOptions() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	rw := Options{Path: "/data/a.db", WALMode: true, BusyTimeout: 5}
	ro := Options{Path: "/data/a.db", WALMode: true, BusyTimeout: 5, ReadOnly: true}

	tests := []struct {
		name    string
		engine  string
		opts    Options
		want    []string
		notWant []string
	}{
		{
			name:   "mattn read-write",
			engine: EngineMattn,
			opts:   rw,
			want:   []string{"_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL"},
		},
		{
			name:    "mattn read-only",
			engine:  EngineMattn,
			opts:    ro,
			want:    []string{"_query_only=true"},
			notWant: []string{"_journal_mode"},
		},
		{
			name:   "modernc read-write",
			engine: EngineModernc,
			opts:   rw,
			want:   []string{"busy_timeout(5000)", "foreign_keys(1)", "journal_mode(WAL)"},
		},
		{
			name:    "modernc read-only",
			engine:  EngineModernc,
			opts:    ro,
			want:    []string{"query_only(1)"},
			notWant: []string{"journal_mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dsn(tt.engine, tt.opts)
			if !strings.HasPrefix(got, "file:/data/a.db?") {
				t.Fatalf("dsn() = %q, want file:/data/a.db? prefix", got)
			}
			decoded, err := url.QueryUnescape(got)
			if err != nil {
				t.Fatalf("QueryUnescape() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(decoded, w) {
					t.Errorf("dsn() = %q, missing %q", decoded, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(decoded, nw) {
					t.Errorf("dsn() = %q, should not contain %q", decoded, nw)
				}
			}
		})
	}
}

func TestDriversRegistered(t *testing.T) {
	for _, engine := range engines {
		d, err := vdba.Default().Driver(engine)
		if err != nil {
			t.Fatalf("Driver(%q) error = %v", engine, err)
		}
		caps := d.Capabilities()
		if caps.Kind != vdba.KindRelational || !caps.Transactions || !caps.NestedTransactions {
			t.Errorf("%s capabilities = %+v", engine, caps)
		}
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")
			conn, _ := openTestConn(t, engine, vdba.ReadWrite, path)

			if _, err := os.Stat(path); err != nil {
				t.Errorf("database file not created: %v", err)
			}
			srv, err := conn.Server()
			if err != nil {
				t.Fatalf("Server() error = %v", err)
			}
			if want := engine + "://" + path; srv.Address() != want {
				t.Errorf("Address() = %q, want %q", srv.Address(), want)
			}
			if err := srv.Ping(context.Background()); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
		})
	}
}

func TestConnection_CommitAndClose(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			conn, db := openTestConn(t, engine, vdba.ReadWrite, filepath.Join(t.TempDir(), "test.db"))

			if err := conn.RunTransaction(ctx, vdba.ReadWrite, insertUser("ada")); err != nil {
				t.Fatalf("RunTransaction() error = %v", err)
			}

			var got []user
			if err := db.SelectContext(ctx, &got, "SELECT id, name FROM users"); err != nil {
				t.Fatalf("SelectContext() error = %v", err)
			}
			if len(got) != 1 || got[0].Name != "ada" {
				t.Errorf("users = %+v, want [ada]", got)
			}

			srv, _ := conn.Server()
			if err := conn.Close(ctx); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if err := srv.Ping(ctx); !errors.Is(err, vdba.ErrStaleHandle) {
				t.Errorf("Ping() after Close error = %v, want ErrStaleHandle", err)
			}
			if _, err := db.ExecContext(ctx, "DELETE FROM users"); !errors.Is(err, vdba.ErrStaleHandle) {
				t.Errorf("ExecContext() after Close error = %v, want ErrStaleHandle", err)
			}
		})
	}
}

func TestTransaction_Rollback(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			conn, db := openTestConn(t, engine, vdba.ReadWrite, MemoryPath)

			errAbort := errors.New("abort")
			err := conn.RunTransaction(ctx, vdba.ReadWrite, func(ctx context.Context, db vdba.Database) error {
				if err := insertUser("grace")(ctx, db); err != nil {
					return err
				}
				return errAbort
			})
			if err != errAbort {
				t.Fatalf("RunTransaction() error = %v, want errAbort", err)
			}
			if n := countUsers(t, db); n != 0 {
				t.Errorf("users after rollback = %d, want 0", n)
			}
		})
	}
}

func TestTransaction_ReadOnly(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			conn, db := openTestConn(t, engine, vdba.ReadWrite, filepath.Join(t.TempDir(), "ro.db"))

			err := conn.RunTransaction(ctx, vdba.ReadOnly, insertUser("linus"))
			if !errors.Is(err, vdba.ErrReadOnly) {
				t.Fatalf("write in readonly transaction error = %v, want ErrReadOnly", err)
			}

			// query_only is switched off again afterwards.
			if err := conn.RunTransaction(ctx, vdba.ReadWrite, insertUser("linus")); err != nil {
				t.Fatalf("readwrite transaction after readonly error = %v", err)
			}
			if n := countUsers(t, db); n != 1 {
				t.Errorf("users = %d, want 1", n)
			}
		})
	}
}

func TestTransaction_NestedSavepoints(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			conn, db := openTestConn(t, engine, vdba.ReadWrite, MemoryPath)

			errInner := errors.New("inner")
			err := conn.RunTransaction(ctx, vdba.ReadWrite, func(ctx context.Context, outer vdba.Database) error {
				if err := insertUser("outer")(ctx, outer); err != nil {
					return err
				}
				if err := conn.RunTransaction(ctx, vdba.ReadWrite, insertUser("kept")); err != nil {
					return err
				}
				err := conn.RunTransaction(ctx, vdba.ReadWrite, func(ctx context.Context, inner vdba.Database) error {
					if err := insertUser("discarded")(ctx, inner); err != nil {
						return err
					}
					return errInner
				})
				if err != errInner {
					t.Errorf("inner error = %v, want errInner", err)
				}
				if err := conn.RunTransaction(ctx, vdba.ReadOnly, insertUser("blocked")); !errors.Is(err, vdba.ErrReadOnly) {
					t.Errorf("write in nested readonly error = %v, want ErrReadOnly", err)
				}
				return insertUser("after")(ctx, outer)
			})
			if err != nil {
				t.Fatalf("outer RunTransaction() error = %v", err)
			}

			var names []string
			if err := db.SelectContext(ctx, &names, "SELECT name FROM users ORDER BY id"); err != nil {
				t.Fatalf("SelectContext() error = %v", err)
			}
			want := []string{"outer", "kept", "after"}
			if strings.Join(names, ",") != strings.Join(want, ",") {
				t.Errorf("users = %v, want %v", names, want)
			}
		})
	}
}

func TestReadOnlyConnection(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "shared.db")

			rw, _ := openTestConn(t, engine, vdba.ReadWrite, path)
			if err := rw.RunTransaction(ctx, vdba.ReadWrite, insertUser("ken")); err != nil {
				t.Fatalf("seed error = %v", err)
			}
			if err := rw.Close(ctx); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			ro, db := openTestConn(t, engine, vdba.ReadOnly, path)
			if !db.ReadOnly() {
				t.Error("ReadOnly() = false on readonly connection")
			}
			if n := countUsers(t, db); n != 1 {
				t.Errorf("users = %d, want 1", n)
			}
			if err := ro.RunTransaction(ctx, vdba.ReadOnly, insertUser("rob")); !errors.Is(err, vdba.ErrReadOnly) {
				t.Errorf("write on readonly connection error = %v, want ErrReadOnly", err)
			}
			if err := ro.RunTransaction(ctx, vdba.ReadWrite, insertUser("rob")); !errors.Is(err, vdba.ErrModeViolation) {
				t.Errorf("readwrite transaction on readonly connection error = %v, want ErrModeViolation", err)
			}
		})
	}
}

func TestReadOnlyConnection_MissingFile(t *testing.T) {
	cfg := vdba.MustConnectionConfig(EngineModernc, vdba.ReadOnly, map[string]string{
		"path": filepath.Join(t.TempDir(), "absent.db"),
	})
	conn, err := vdba.NewConnection(New(EngineModernc), cfg)
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	if _, err := conn.Open(context.Background()); !errors.Is(err, vdba.ErrEngine) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open() error = %v, want ErrEngine wrapping ErrNotExist", err)
	}
	if conn.Connected() {
		t.Error("Connected() = true after failed open")
	}
}
