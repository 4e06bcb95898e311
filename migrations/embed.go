// Package migrations carries the schema as embedded SQL files, applied
// in filename order by the storage migration runner. Embedding keeps the
// binary self-contained: no migration directory needs to ship alongside
// the server.
package migrations

import "embed"

// FS holds every numbered .sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
