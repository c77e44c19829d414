// Package migrations embeds the schema so the binary and the test harness
// apply the same files.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed *.sql
var files embed.FS

func Source() *migrate.EmbedFileSystemMigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: files,
		Root:       ".",
	}
}

// Apply runs pending migrations in the given direction. limit <= 0 applies all.
func Apply(db *sql.DB, dir migrate.MigrationDirection, limit int) (int, error) {
	n, err := migrate.ExecMax(db, "postgres", Source(), dir, limit)
	if err != nil {
		return n, fmt.Errorf("migrations.Apply: %w", err)
	}
	return n, nil
}
