// Package migrations embeds the SQL schema so the API binary and the test
// harnesses apply the same files.
package migrations

import "embed"

// FS holds every *.sql file in lexical order of application.
//
//go:embed *.sql
var FS embed.FS
