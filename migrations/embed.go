// Package migrations holds the SQL schema migrations applied by
// "bird-ingester migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
