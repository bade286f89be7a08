package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	"consentd/migrations"
)

// Migrate applies the embedded SQL migrations in filename order. Every
// statement is idempotent (IF NOT EXISTS), so reapplying on each startup
// is safe and no version bookkeeping table is needed.
func Migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
