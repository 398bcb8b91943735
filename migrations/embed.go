// Package migrations embeds the ledger's SQL schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
