// internal/registry/registry.go
//
// Tenant registry: CRUD against the control database.
//
// Context
// -------
// The registry is the single source of truth for tenant metadata.  It
// operates exclusively against the control database and never touches a
// tenant's physical database—creating, migrating, renaming, and dropping
// those is the provisioning service's job, which composes registry calls
// with physical DDL and compensates on partial failure.
//
// Workflow
// --------
//  1. Callers supply a *sqlx.DB that is already connected to the control
//     database (injected once at construction).
//  2. Every operation validates its input before touching storage and
//     returns a typed *fault.Error on failure.
//  3. fqdn/db_name uniqueness is enforced by partial unique indexes; the
//     Exists pre-check only produces a friendlier error earlier.  A
//     unique-violation from the driver is mapped to the same conflict
//     code, so two concurrent Creates cannot both succeed.
//
// Notes
// -----
//   - Column list matches the fields in `Tenant`; update both together.
//   - Delete is a soft delete (sets deleted_at).  Purge removes the row
//     outright and exists for provisioning compensation.
//   - Oxford commas, two spaces after periods.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/yanizio/tenantd/internal/fault"
)

// pqUniqueViolation is the Postgres error code for a unique-index hit.
const pqUniqueViolation = "23505"

const tenantColumns = `id, fqdn, db_name, redirect_to, force_https, under_maintenance_since, created_at, updated_at, deleted_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Registry provides tenant metadata CRUD over the control database.
type Registry struct {
	db *sqlx.DB
}

// New returns a Registry bound to the control database pool.
func New(db *sqlx.DB) *Registry { return &Registry{db: db} }

//
// lookups
//

// Exists returns the first live tenant matching any of the provided
// keys (logical OR).  Empty keys are skipped; when every key is empty,
// or nothing matches, the result is ENotFound.  Used both for existence
// checks and for uniqueness pre-checks at creation.
func (r *Registry) Exists(ctx context.Context, fqdn, dbName, id string) (*Tenant, error) {
	const op = "registry.Exists"

	or := sq.Or{}
	if fqdn != "" {
		or = append(or, sq.Eq{"fqdn": fqdn})
	}
	if dbName != "" {
		or = append(or, sq.Eq{"db_name": dbName})
	}
	if id != "" {
		or = append(or, sq.Eq{"id": id})
	}
	if len(or) == 0 {
		return nil, fault.NotFound(op, "no lookup key supplied")
	}

	query, args, err := psql.
		Select(tenantColumns).
		From("hostnames").
		Where(or).
		Where("deleted_at IS NULL").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}

	var t Tenant
	if err := r.db.GetContext(ctx, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.NotFound(op, "tenant does not exist")
		}
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return &t, nil
}

// Get fetches a single live tenant by id.
func (r *Registry) Get(ctx context.Context, id string) (*Tenant, error) {
	const op = "registry.Get"
	if id == "" {
		return nil, fault.Invalid(op, "tenant ID is empty")
	}

	const q = `
        SELECT ` + tenantColumns + `
        FROM   hostnames
        WHERE  id = $1
          AND  deleted_at IS NULL
        LIMIT  1`
	var t Tenant
	if err := r.db.GetContext(ctx, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.NotFound(op, "tenant does not exist")
		}
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return &t, nil
}

// ByFQDN fetches a single live tenant by hostname, case-insensitive
// exact match.  Used by the routing middleware on every request, so it
// stays a single round trip.
func (r *Registry) ByFQDN(ctx context.Context, fqdn string) (*Tenant, error) {
	const op = "registry.ByFQDN"
	if fqdn == "" {
		return nil, fault.Invalid(op, "FQDN is empty")
	}

	const q = `
        SELECT ` + tenantColumns + `
        FROM   hostnames
        WHERE  LOWER(fqdn) = LOWER($1)
          AND  deleted_at IS NULL
        LIMIT  1`
	var t Tenant
	if err := r.db.GetContext(ctx, &t, q, fqdn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.NotFound(op, "tenant does not exist")
		}
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return &t, nil
}

// All returns every live tenant ordered by fqdn.
func (r *Registry) All(ctx context.Context) ([]Tenant, error) {
	const op = "registry.All"

	const q = `
        SELECT ` + tenantColumns + `
        FROM   hostnames
        WHERE  deleted_at IS NULL
        ORDER  BY fqdn`
	var out []Tenant
	if err := r.db.SelectContext(ctx, &out, q); err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return out, nil
}

// List returns every live tenant whose fqdn contains the pattern as a
// literal substring, case as supplied.  LIKE metacharacters in the
// pattern are escaped, so "100%" matches "100%" and nothing else.
func (r *Registry) List(ctx context.Context, fqdnPattern string) ([]Tenant, error) {
	const op = "registry.List"
	if fqdnPattern == "" {
		return nil, fault.Invalid(op, "FQDN pattern is empty")
	}

	const q = `
        SELECT ` + tenantColumns + `
        FROM   hostnames
        WHERE  fqdn LIKE '%' || $1 || '%' ESCAPE '\'
          AND  deleted_at IS NULL
        ORDER  BY fqdn`
	var out []Tenant
	if err := r.db.SelectContext(ctx, &out, q, escapeLike(fqdnPattern)); err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return out, nil
}

// IDByFQDN resolves a hostname to a tenant id, case-insensitive exact
// match.  Used by the pool's hostname resolution.
func (r *Registry) IDByFQDN(ctx context.Context, fqdn string) (string, error) {
	const op = "registry.IDByFQDN"
	if fqdn == "" {
		return "", fault.Invalid(op, "FQDN is empty")
	}

	const q = `
        SELECT id
        FROM   hostnames
        WHERE  LOWER(fqdn) = LOWER($1)
          AND  deleted_at IS NULL
        LIMIT  1`
	var id string
	if err := r.db.GetContext(ctx, &id, q, fqdn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fault.NotFound(op, "tenant does not exist")
		}
		return "", &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return id, nil
}

// Hostname returns the fqdn for a tenant id.
func (r *Registry) Hostname(ctx context.Context, id string) (string, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return t.FQDN, nil
}

// DBName returns the physical database name for a tenant id.
func (r *Registry) DBName(ctx context.Context, id string) (string, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return t.DBName, nil
}

//
// mutations
//

// Create persists a new tenant row and returns its generated id.  The
// physical database is NOT provisioned here; the provisioning service
// invokes Create as step one of its workflow.
func (r *Registry) Create(ctx context.Context, n NewTenant) (string, error) {
	const op = "registry.Create"
	if n.IsZero() {
		return "", fault.Invalid(op, "tenant object is empty")
	}
	if n.FQDN == "" {
		return "", fault.Invalid(op, "FQDN is required")
	}

	// Friendly pre-check; the partial unique indexes are the authority.
	if _, err := r.Exists(ctx, n.FQDN, n.DBName, ""); err == nil {
		return "", fault.Conflict(op, "tenant already exists")
	} else if fault.ErrorCode(err) != fault.ENotFound {
		return "", err
	}

	id := uuid.NewString()
	dbName := n.DBName
	if dbName == "" {
		dbName = GenerateDBName(id)
	}

	const q = `
        INSERT INTO hostnames
               (id, fqdn, db_name, redirect_to, force_https,
                under_maintenance_since, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, now(), now())`
	if _, err := r.db.ExecContext(ctx, q,
		id, n.FQDN, dbName, n.RedirectTo, n.ForceHTTPS, n.UnderMaintenanceSince,
	); err != nil {
		if isUniqueViolation(err) {
			return "", fault.Conflict(op, "tenant already exists")
		}
		return "", &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return id, nil
}

// Update merges the supplied mutable fields into a live tenant row.
func (r *Registry) Update(ctx context.Context, id string, p Patch) error {
	const op = "registry.Update"
	if id == "" {
		return fault.Invalid(op, "tenant ID is empty")
	}
	if p.IsZero() {
		return fault.Invalid(op, "tenant patch is empty")
	}

	b := psql.Update("hostnames").Set("updated_at", sq.Expr("now()"))
	if p.FQDN != nil {
		b = b.Set("fqdn", *p.FQDN)
	}
	if p.DBName != nil {
		b = b.Set("db_name", *p.DBName)
	}
	if p.RedirectTo != nil {
		b = b.Set("redirect_to", *p.RedirectTo)
	}
	if p.ForceHTTPS != nil {
		b = b.Set("force_https", *p.ForceHTTPS)
	}
	switch {
	case p.EndMaintenance:
		b = b.Set("under_maintenance_since", nil)
	case p.UnderMaintenanceSince != nil:
		b = b.Set("under_maintenance_since", *p.UnderMaintenanceSince)
	}
	query, args, err := b.
		Where(sq.Eq{"id": id}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Conflict(op, "tenant already exists")
		}
		return &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound(op, "tenant does not exist")
	}
	return nil
}

// Delete soft-deletes a live tenant row.  A second Delete for the same
// id reports ENotFound, not success.
func (r *Registry) Delete(ctx context.Context, id string) error {
	const op = "registry.Delete"
	if id == "" {
		return fault.Invalid(op, "tenant ID is empty")
	}

	const q = `
        UPDATE hostnames
        SET    deleted_at = now(), updated_at = now()
        WHERE  id = $1
          AND  deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound(op, "tenant does not exist")
	}
	return nil
}

// Purge removes a row outright, deleted or not.  Provisioning uses it
// to compensate a failed physical create so a retry can reuse the fqdn.
func (r *Registry) Purge(ctx context.Context, id string) error {
	const op = "registry.Purge"
	if id == "" {
		return fault.Invalid(op, "tenant ID is empty")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM hostnames WHERE id = $1`, id); err != nil {
		return &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return nil
}

//
// helpers
//

// GenerateDBName derives a physical database name from a tenant id.
// Postgres identifiers are capped at 63 bytes; 12 hex chars of the id
// keep names short while remaining collision-free per id.
func GenerateDBName(id string) string {
	return "tenant_" + strings.ReplaceAll(id, "-", "")[:12]
}

// likeEscaper neutralizes LIKE metacharacters so user input is always a
// literal substring match.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
