// Package migrations embeds the SQL schema migrations for the PostgreSQL
// state store. Files follow the golang-migrate naming convention:
// {version}_{title}.{up|down}.sql
package migrations

import "embed"

// FS holds the embedded migration files.
//
//go:embed *.sql
var FS embed.FS
