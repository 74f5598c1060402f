// internal/provision/physical.go
//
// Physical database DDL over an admin session.
//
// Context
// -------
// CREATE DATABASE, DROP DATABASE, and ALTER DATABASE ... RENAME TO
// cannot run inside a transaction and cannot take bind parameters, so
// names are validated against a strict identifier pattern and then
// quoted with pq.QuoteIdentifier.  The admin session is the control
// pool; Postgres executes database DDL from any database on the server.
package provision

import (
	"context"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/yanizio/tenantd/internal/fault"
)

// dbNamePattern matches the names this control plane generates and the
// operator-supplied names it accepts.  Postgres caps identifiers at 63
// bytes.
var dbNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Admin executes database-level DDL through the control session.
type Admin struct {
	db *sqlx.DB
}

// NewAdmin returns an Admin bound to the control database pool.
func NewAdmin(db *sqlx.DB) *Admin { return &Admin{db: db} }

// Create creates an empty physical database.
func (a *Admin) Create(ctx context.Context, name string) error {
	const op = "provision.Admin.Create"
	if err := validateDBName(op, name); err != nil {
		return err
	}
	_, err := a.db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	return err
}

// Drop removes a physical database.
func (a *Admin) Drop(ctx context.Context, name string) error {
	const op = "provision.Admin.Drop"
	if err := validateDBName(op, name); err != nil {
		return err
	}
	_, err := a.db.ExecContext(ctx, "DROP DATABASE "+pq.QuoteIdentifier(name))
	return err
}

// Rename moves a physical database to a new name.  Fails while sessions
// are connected to it; callers close pool entries first.
func (a *Admin) Rename(ctx context.Context, oldName, newName string) error {
	const op = "provision.Admin.Rename"
	if err := validateDBName(op, oldName); err != nil {
		return err
	}
	if err := validateDBName(op, newName); err != nil {
		return err
	}
	_, err := a.db.ExecContext(ctx,
		"ALTER DATABASE "+pq.QuoteIdentifier(oldName)+" RENAME TO "+pq.QuoteIdentifier(newName))
	return err
}

func validateDBName(op, name string) error {
	if !dbNamePattern.MatchString(name) {
		return fault.Invalid(op, "invalid database name %q", name)
	}
	return nil
}
