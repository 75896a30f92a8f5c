// Package spacemigrations embeds the space-metadata schema migrations.
// The space cache is versioned independently of the message store.
package spacemigrations

import "embed"

//go:embed *.sql
var FS embed.FS
