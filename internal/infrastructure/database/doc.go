// Package database provides the SQLite store behind keymapd's persistent
// state: the process ownership registry, diagnostics history and the audit
// trail.
//
// Migrations are plain SQL files embedded by the migrations package and
// passed to Migrate as an fs.FS:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
