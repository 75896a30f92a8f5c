// Package migrations embeds the message-domain schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
