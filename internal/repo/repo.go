// internal/repo/repo.go
//
// Scoped repository: generic CRUD against an explicit target session.
//
// Context
// -------
// Every operation takes the target *sqlx.DB and a model name as
// explicit parameters.  There is deliberately no "current database"
// field on the repository: under concurrent requests a shared selection
// races, so callers resolve a session through the pool and pass it in.
// The same repository value serves the control database and every
// tenant database.
//
// SQL is built with squirrel using Dollar placeholders.  Rows travel as
// generic key-value maps; the static model registry supplies table and
// primary-key names.
//
// Audit policy
// ------------
// With auditing enabled, each successful mutation emits audit rows to
// the same session, after the primary operation:
//
//   - Add        – one entry per created record (per-record snapshots).
//   - Update     – one batch entry: old = filter, new = patch.
//   - Remove     – one batch entry: old = filter.
//   - Truncate   – one batch entry recording the destroyed count.
//
// Audit failures are counted, logged, and never alter the primary
// result.  Mutations of the audit model itself are not audited.
package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenantd/internal/audit"
	"github.com/yanizio/tenantd/internal/fault"
	"github.com/yanizio/tenantd/internal/metrics"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Values is one generic record or patch.
type Values map[string]any

// Filter is a conjunctive key-value predicate.
type Filter map[string]any

// Repo issues generic CRUD against whichever session it is handed.
type Repo struct {
	auditor *audit.Recorder
}

// New returns a Repo that reports mutations to the given recorder.
func New(auditor *audit.Recorder) *Repo { return &Repo{auditor: auditor} }

//
// reads
//

// FindByID fetches one record by primary key.
func (r *Repo) FindByID(ctx context.Context, db *sqlx.DB, model string, pk any) (Values, error) {
	const op = "repo.FindByID"
	m, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	return r.selectOne(ctx, db, op, m, Filter{m.PrimaryKey: pk})
}

// FindOne fetches the first record matching the filter.
func (r *Repo) FindOne(ctx context.Context, db *sqlx.DB, model string, filter Filter) (Values, error) {
	const op = "repo.FindOne"
	m, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	return r.selectOne(ctx, db, op, m, filter)
}

// FindAll fetches every record matching the filter; a nil or empty
// filter returns the whole table.
func (r *Repo) FindAll(ctx context.Context, db *sqlx.DB, model string, filter Filter) ([]Values, error) {
	const op = "repo.FindAll"
	m, err := Lookup(model)
	if err != nil {
		return nil, err
	}

	b := psql.Select("*").From(m.Table)
	if len(filter) > 0 {
		b = b.Where(sq.Eq(filter))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	defer rows.Close()

	var out []Values
	for rows.Next() {
		rec := make(map[string]any)
		if err := rows.MapScan(rec); err != nil {
			return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
		}
		out = append(out, normalize(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return out, nil
}

//
// mutations
//

// Add inserts one or more records and returns the created rows.  All
// records must share the same column set.
func (r *Repo) Add(ctx context.Context, db *sqlx.DB, model string, records ...Values) ([]Values, error) {
	const op = "repo.Add"
	m, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, fault.Invalid(op, "no records supplied")
	}

	cols := make([]string, 0, len(records[0]))
	for c := range records[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	b := psql.Insert(m.Table).Columns(cols...)
	for _, rec := range records {
		if len(rec) != len(cols) {
			return nil, fault.Invalid(op, "records have mismatched columns")
		}
		vals := make([]any, len(cols))
		for i, c := range cols {
			v, ok := rec[c]
			if !ok {
				return nil, fault.Invalid(op, "records have mismatched columns")
			}
			vals[i] = v
		}
		b = b.Values(vals...)
	}
	query, args, err := b.Suffix("RETURNING *").ToSql()
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	defer rows.Close()

	var created []Values
	for rows.Next() {
		rec := make(map[string]any)
		if err := rows.MapScan(rec); err != nil {
			return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
		}
		created = append(created, normalize(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}

	for _, rec := range created {
		r.report(ctx, db, audit.EventCreate, m, stringify(rec[m.PrimaryKey]), nil, rec)
	}
	return created, nil
}

// Update patches every record matching the filter and returns the
// affected count.  Both filter and patch must be non-empty; Truncate is
// the explicit whole-table operation.
func (r *Repo) Update(ctx context.Context, db *sqlx.DB, model string, filter Filter, patch Values) (int64, error) {
	const op = "repo.Update"
	m, err := Lookup(model)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, fault.Invalid(op, "filter is empty")
	}
	if len(patch) == 0 {
		return 0, fault.Invalid(op, "patch is empty")
	}

	query, args, err := psql.Update(m.Table).SetMap(patch).Where(sq.Eq(filter)).ToSql()
	if err != nil {
		return 0, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	n, _ := res.RowsAffected()

	if n > 0 {
		r.report(ctx, db, audit.EventUpdate, m, "", Values(filter), patch)
	}
	return n, nil
}

// Remove deletes every record matching the filter and returns the
// affected count.  The filter must be non-empty.
func (r *Repo) Remove(ctx context.Context, db *sqlx.DB, model string, filter Filter) (int64, error) {
	const op = "repo.Remove"
	m, err := Lookup(model)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, fault.Invalid(op, "filter is empty")
	}

	query, args, err := psql.Delete(m.Table).Where(sq.Eq(filter)).ToSql()
	if err != nil {
		return 0, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	n, _ := res.RowsAffected()

	if n > 0 {
		r.report(ctx, db, audit.EventRemove, m, "", Values(filter), nil)
	}
	return n, nil
}

// Truncate wipes the model's table and returns the destroyed count.
func (r *Repo) Truncate(ctx context.Context, db *sqlx.DB, model string) (int64, error) {
	const op = "repo.Truncate"
	m, err := Lookup(model)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+m.Table); err != nil {
		return 0, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE TABLE "+m.Table); err != nil {
		return 0, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}

	r.report(ctx, db, audit.EventTruncate, m, "", Values{"destroyed": n}, nil)
	return n, nil
}

// Execute is the escape hatch for the rare operation not expressible
// through the generic calls.  It is never audited; callers own the
// consequences.
func (r *Repo) Execute(ctx context.Context, db *sqlx.DB, rawCommand string, args ...any) (sql.Result, error) {
	const op = "repo.Execute"
	if rawCommand == "" {
		return nil, fault.Invalid(op, "raw command is empty")
	}
	res, err := db.ExecContext(ctx, rawCommand, args...)
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return res, nil
}

//
// helpers
//

func (r *Repo) selectOne(ctx context.Context, db *sqlx.DB, op string, m Model, filter Filter) (Values, error) {
	b := psql.Select("*").From(m.Table)
	if len(filter) > 0 {
		b = b.Where(sq.Eq(filter))
	}
	query, args, err := b.Limit(1).ToSql()
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
		}
		return nil, fault.NotFound(op, "%s not found", m.Name)
	}
	rec := make(map[string]any)
	if err := rows.MapScan(rec); err != nil {
		return nil, &fault.Error{Code: fault.EInternal, Op: op, Err: err}
	}
	return normalize(rec), nil
}

// report emits one audit row, swallowing failures per policy.
func (r *Repo) report(ctx context.Context, db *sqlx.DB, ev audit.Event, m Model, recordID string, oldVals, newVals any) {
	if !r.auditor.Enabled() || m.Name == "audit" {
		return
	}
	if err := r.auditor.Record(ctx, db, ev, m.Name, recordID, oldVals, newVals); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		zap.S().Warnw("audit write failed", "model", m.Name, "event", ev, "err", err)
	}
}

// normalize converts driver []byte values to string so records survive
// JSON serialization in audit snapshots and HTTP responses.
func normalize(rec map[string]any) Values {
	for k, v := range rec {
		if b, ok := v.([]byte); ok {
			rec[k] = string(b)
		}
	}
	return rec
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
