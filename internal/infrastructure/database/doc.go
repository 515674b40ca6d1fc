// Package database opens the bridge's SQLite store and applies schema
// migrations.
//
// The store holds device credentials (duid, local key, protocol version,
// last handshake nonce) and the command log, so the file is created with
// owner-only permissions.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are read from the root of an fs.FS and named
// YYYYMMDD_HHMMSS_name.up.sql with an optional matching .down.sql. Each
// runs in its own transaction and is recorded in schema_migrations.
package database
