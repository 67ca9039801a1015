// Package migrations embeds the SQL schema for response history and the
// request log so the service binary carries its own schema.
package migrations

import (
	"embed"

	"github.com/nerrad567/geomodel-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
