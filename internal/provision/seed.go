// internal/provision/seed.go
//
// SQL-file seeder.
//
// Context
// -------
// Seed data lives as plain .sql files in a directory, applied in name
// order so operators can prefix files with a sequence number.  Seeding
// is best-effort by policy: the service logs a failure and moves on,
// because a tenant without seed rows is degraded, not broken.
package provision

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/yanizio/tenantd/internal/database"
	"github.com/yanizio/tenantd/internal/fault"
)

// SQLSeeder executes the seed scripts in a directory against tenant
// databases reached via the control credentials.
type SQLSeeder struct {
	base database.Descriptor
	dir  string
}

// NewSQLSeeder returns a seeder for the given directory.  An empty dir
// disables seeding.
func NewSQLSeeder(base database.Descriptor, dir string) *SQLSeeder {
	return &SQLSeeder{base: base, dir: dir}
}

// Seed applies every .sql file in the directory, in name order.
func (s *SQLSeeder) Seed(ctx context.Context, dbName string) error {
	const op = "provision.SQLSeeder.Seed"
	if s.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return &fault.Error{Code: fault.ESeed, Op: op, Msg: "read seed dir", Err: err}
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil
	}
	sort.Strings(files)

	db, err := sql.Open("postgres", s.base.WithDatabase(dbName).DSN())
	if err != nil {
		return &fault.Error{Code: fault.ESeed, Op: op, Msg: "open " + dbName, Err: err}
	}
	defer db.Close()

	for _, name := range files {
		script, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return &fault.Error{Code: fault.ESeed, Op: op, Msg: "read " + name, Err: err}
		}
		if _, err := db.ExecContext(ctx, string(script)); err != nil {
			return &fault.Error{Code: fault.ESeed, Op: op, Msg: "apply " + name, Err: err}
		}
	}
	return nil
}
