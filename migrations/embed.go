// Package migrations embeds the SQL migration files so they can be used
// by the goose programmatic API from server bootstrap and the CLI.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
// Handed to goose.SetBaseFS so migrations need no filesystem path at runtime.
//
//go:embed *.sql
var FS embed.FS
