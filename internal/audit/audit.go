// internal/audit/audit.go
//
// Best-effort mutation auditing.
//
// Context
// -------
// When enabled, every successful mutating repository call writes one
// row to the `audits` table of the *target* session's database, so each
// tenant keeps its own audit trail.  Registry-level tenant mutations
// are not audited here; the hostnames table is the registry's own
// record.
//
// Audit writes happen after the primary operation succeeds and are
// best-effort by policy: a failed write is counted and logged, and the
// primary result is still returned to the caller.
//
// Notes
// -----
//   - Snapshots are serialized as JSON text; nil snapshots become SQL
//     NULL.
//   - Oxford commas, two spaces after periods.
package audit

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantd/internal/fault"
)

// Event classifies a mutation.
type Event string

const (
	EventCreate   Event = "Create"
	EventUpdate   Event = "Update"
	EventRemove   Event = "Remove"
	EventTruncate Event = "Truncate"
)

// Record is one audit row, used by queries and tests.
type Record struct {
	ID        int64   `db:"id"`
	Event     string  `db:"event"`
	Model     string  `db:"model"`
	RecordID  *string `db:"record_id"`
	OldValues *string `db:"old_values"`
	NewValues *string `db:"new_values"`
}

// Recorder writes audit rows when enabled.  The zero value is a
// disabled recorder.
type Recorder struct {
	enabled bool
}

// NewRecorder returns a Recorder honouring the audit.enabled config.
func NewRecorder(enabled bool) *Recorder { return &Recorder{enabled: enabled} }

// Enabled reports whether Record will write anything.
func (r *Recorder) Enabled() bool { return r != nil && r.enabled }

// Record writes one audit row to the session's database.  recordID may
// be empty for set-wide operations (update/remove by filter, truncate).
// oldVals and newVals are serialized as JSON; nil stays NULL.
func (r *Recorder) Record(ctx context.Context, db *sqlx.DB, ev Event, model, recordID string, oldVals, newVals any) error {
	const op = "audit.Record"
	if !r.Enabled() {
		return nil
	}

	oldJSON, err := marshalSnapshot(oldVals)
	if err != nil {
		return &fault.Error{Code: fault.EAudit, Op: op, Msg: "serialize old values", Err: err}
	}
	newJSON, err := marshalSnapshot(newVals)
	if err != nil {
		return &fault.Error{Code: fault.EAudit, Op: op, Msg: "serialize new values", Err: err}
	}

	var rid *string
	if recordID != "" {
		rid = &recordID
	}

	const q = `
        INSERT INTO audits (event, model, record_id, old_values, new_values, created_at)
        VALUES ($1, $2, $3, $4, $5, now())`
	if _, err := db.ExecContext(ctx, q, string(ev), model, rid, oldJSON, newJSON); err != nil {
		return &fault.Error{Code: fault.EAudit, Op: op, Msg: "write audit row", Err: err}
	}
	return nil
}

func marshalSnapshot(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
