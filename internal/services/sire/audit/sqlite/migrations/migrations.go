// Package migrations embeds the audit trail schema.
package migrations

import "embed"

// FS holds the audit trail migrations.
//
//go:embed *.sql
var FS embed.FS
