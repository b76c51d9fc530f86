// Package migrations embeds the SQL migrations of the Postgres bundle store.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
