// Package migrations embeds the goose schema for the negotiation store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
