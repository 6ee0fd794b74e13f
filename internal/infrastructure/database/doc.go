// Package database provides SQLite connectivity for the execution and
// safety incident history.
//
// The control loop never touches the database. History is written by a
// recorder goroutine and read by the API, so WAL mode is on by default.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry defaults,
// and every .up.sql should ship with a .down.sql.
package database
