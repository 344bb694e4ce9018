// Package vdba is the backend-agnostic connection and transaction core.
//
// It lets calling code open a connection, obtain a database handle and run
// work inside transaction boundaries without knowing which storage engine
// (document, column, key-value or relational) serves the request. Engines
// plug in through the Driver capability interface; this package never
// imports a concrete driver.
//
// # Flow
//
//	cfg, _ := vdba.NewConnectionConfig("sqlite3", vdba.ReadWrite, map[string]string{
//	    "path": "./data/app.db",
//	})
//	conn, err := vdba.Default().NewConnection(cfg) // connection owns a clone of cfg
//	if err != nil {
//	    return err
//	}
//	if _, err := conn.Open(ctx); err != nil {
//	    return err
//	}
//	defer conn.Close(ctx)
//
//	err = conn.RunTransaction(ctx, vdba.ReadWrite, func(ctx context.Context, db vdba.Database) error {
//	    sqlDB, err := vdba.As[*sqlite.Database](db)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = sqlDB.Exec(ctx, "INSERT INTO notes (body) VALUES (?)", "hello")
//	    return err
//	})
//
// # Lifecycle
//
// A Connection starts closed, becomes open after a successful Open and is
// terminal after Close. Handles (Server, Database) are only available while
// open; afterwards they fault with ErrNotConnected, and handles retained by
// the caller fault with ErrStaleHandle.
//
// # Errors
//
// Precondition violations wrap ErrUsage and are returned before any engine
// work starts. Engine failures wrap ErrEngine. Errors returned by a
// transaction operation are passed back unchanged after rollback.
//
// # Blocking and callback styles
//
// Open, Close and RunTransaction block until completion. OpenAsync,
// CloseAsync and RunTransactionAsync report the same result through a
// callback that is invoked exactly once.
package vdba
