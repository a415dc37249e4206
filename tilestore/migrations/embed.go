// Package migrations embeds the goose SQL migrations for the tile archive.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
