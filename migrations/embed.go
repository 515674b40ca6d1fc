// Package migrations embeds the bridge's SQL schema migrations.
package migrations

import "embed"

// FS holds YYYYMMDD_HHMMSS_name.{up,down}.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
