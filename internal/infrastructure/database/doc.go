// Package database provides SQLite connectivity for GeoModel Core.
//
// It opens the database file with WAL mode and a busy timeout, and applies
// versioned SQL migrations registered from an embedded filesystem.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default.
package database
