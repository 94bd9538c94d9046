// Package migrations embeds the SQL schema migrations for the state database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
