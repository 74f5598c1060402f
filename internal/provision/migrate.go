// internal/provision/migrate.go
//
// Goose-backed migration runner.
//
// Context
// -------
// Tenant databases all share one migration source directory (the tenant
// template).  Apply dials the tenant database with a short-lived
// connection, runs every pending goose migration, and closes.  Goose
// keeps its own version table per database, so Apply is safe to re-run;
// Resume relies on that.
package provision

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/yanizio/tenantd/internal/database"
)

// GooseRunner applies SQL migrations from a directory to tenant
// databases reached via the control credentials.
type GooseRunner struct {
	base database.Descriptor
	dir  string
}

// NewGooseRunner returns a runner for the given migration directory.
func NewGooseRunner(base database.Descriptor, dir string) *GooseRunner {
	return &GooseRunner{base: base, dir: dir}
}

// Apply runs all pending migrations against dbName.
func (g *GooseRunner) Apply(ctx context.Context, dbName string) error {
	db, err := sql.Open("postgres", g.base.WithDatabase(dbName).DSN())
	if err != nil {
		return fmt.Errorf("open %s: %w", dbName, err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, g.dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dbName, err)
	}
	return nil
}
