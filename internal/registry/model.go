// internal/registry/model.go
//
// `hostnames` table row model and mutation inputs.
//
// Context
// -------
// The `Tenant` struct mirrors one row in the control-database
// **hostnames** table, the system of record for tenant routing and
// provisioning state.  It is used by the registry queries, the pool's
// hostname resolution, and admin tooling that lists or edits tenants.
//
// Schema reference (migrations/control/00001_hostnames.sql)
//
//	CREATE TABLE hostnames (
//	    id                      CHAR(36)     PRIMARY KEY,
//	    fqdn                    VARCHAR(256) NOT NULL,
//	    db_name                 VARCHAR(64)  NOT NULL,
//	    redirect_to             VARCHAR(256),
//	    force_https             BOOLEAN      NOT NULL DEFAULT FALSE,
//	    under_maintenance_since TIMESTAMPTZ,
//	    created_at              TIMESTAMPTZ  NOT NULL DEFAULT now(),
//	    updated_at              TIMESTAMPTZ  NOT NULL DEFAULT now(),
//	    deleted_at              TIMESTAMPTZ
//	);
//	CREATE UNIQUE INDEX hostnames_fqdn_live    ON hostnames (fqdn)    WHERE deleted_at IS NULL;
//	CREATE UNIQUE INDEX hostnames_db_name_live ON hostnames (db_name) WHERE deleted_at IS NULL;
//
// Notes
// -----
// • Nullable timestamps are `*time.Time`; callers must nil-check before use.
// • `CreatedAt` and `UpdatedAt` are NOT NULL, so plain `time.Time` is safe.
// • Uniqueness of fqdn and db_name among live rows is enforced by the
//   partial unique indexes; application-level Exists checks are an
//   optimization, not the correctness guarantee.
// • This struct contains no behaviour—pure data model for sqlx scans.
package registry

import "time"

// Tenant mirrors one row in the `hostnames` table.  JSON tags serve the
// admin API responses.
type Tenant struct {
	ID                    string     `db:"id"                      json:"id"`
	FQDN                  string     `db:"fqdn"                    json:"fqdn"`
	DBName                string     `db:"db_name"                 json:"db_name"`
	RedirectTo            *string    `db:"redirect_to"             json:"redirect_to,omitempty"`
	ForceHTTPS            bool       `db:"force_https"             json:"force_https"`
	UnderMaintenanceSince *time.Time `db:"under_maintenance_since" json:"under_maintenance_since,omitempty"`
	CreatedAt             time.Time  `db:"created_at"              json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"              json:"updated_at"`
	DeletedAt             *time.Time `db:"deleted_at"              json:"deleted_at,omitempty"`
}

// UnderMaintenance reports whether traffic should be refused or
// redirected for this tenant.
func (t *Tenant) UnderMaintenance() bool { return t.UnderMaintenanceSince != nil }

// NewTenant is the creation input.  ID, timestamps, and a missing
// DBName are generated by Create.
type NewTenant struct {
	FQDN                  string
	DBName                string
	RedirectTo            *string
	ForceHTTPS            bool
	UnderMaintenanceSince *time.Time
}

// IsZero reports whether no field was supplied at all.
func (n NewTenant) IsZero() bool {
	return n.FQDN == "" && n.DBName == "" && n.RedirectTo == nil &&
		!n.ForceHTTPS && n.UnderMaintenanceSince == nil
}

// Patch carries the mutable fields for Update.  Nil pointers leave the
// column untouched.  ID, created_at, and deleted_at are never patchable;
// db_name changes normally route through the provisioning rename
// workflow, which calls Update itself after the physical rename is
// arranged.
type Patch struct {
	FQDN                  *string
	DBName                *string
	RedirectTo            *string
	ForceHTTPS            *bool
	UnderMaintenanceSince *time.Time
	EndMaintenance        bool // clears under_maintenance_since
}

// IsZero reports whether the patch carries no change.
func (p Patch) IsZero() bool {
	return p.FQDN == nil && p.DBName == nil && p.RedirectTo == nil &&
		p.ForceHTTPS == nil && p.UnderMaintenanceSince == nil && !p.EndMaintenance
}
