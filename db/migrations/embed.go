// Package migrations embeds the goose SQL migrations so binaries do not depend
// on a migrations directory at runtime.
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
