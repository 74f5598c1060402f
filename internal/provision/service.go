// internal/provision/service.go
//
// Tenant provisioning workflows.
//
// Context
// -------
// The provisioning service is the one component allowed to touch both
// sides of the tenant invariant: the registry row in the control
// database, and the tenant's physical database.  Every workflow here is
// strictly sequential, and each step's failure has a defined
// compensation so a caller never observes a registered tenant whose
// physical database was never created.
//
// Workflows
// ---------
//   - Provision: registry create → physical create → migrate → seed →
//     prime pool entry.  A physical-create failure purges the fresh
//     registry row before surfacing.  A migrate failure leaves the
//     tenant registered but unusable and surfaces an EProvisioning
//     error carrying the tenant id and step, so Resume can pick up from
//     migration.  Seed failures are non-fatal by policy.
//   - Deprovision: registry get → registry delete → pool close →
//     physical drop.  The routing entry goes first, so no new traffic
//     resolves to the tenant during teardown.  A drop failure leaves
//     the tenant unroutable and is surfaced for out-of-band cleanup.
//   - Rename: registry update → physical rename → pool close.  A
//     physical-rename failure reverts the registry field.
//
// Notes
// -----
//   - Collaborators are consumed as interfaces; implementations live in
//     physical.go, migrate.go, and seed.go.
//   - Oxford commas, two spaces after periods.
package provision

import (
	"context"

	"go.uber.org/zap"

	"github.com/yanizio/tenantd/internal/fault"
	"github.com/yanizio/tenantd/internal/metrics"
	"github.com/yanizio/tenantd/internal/registry"
)

// Step names carried inside EProvisioning errors for resumability.
const (
	StepCreateDatabase = "create-database"
	StepMigrate        = "migrate"
	StepSeed           = "seed"
	StepRenameDatabase = "rename-database"
	StepDropDatabase   = "drop-database"
)

// TenantRegistry is the control-database capability the service needs.
// *registry.Registry satisfies it.
type TenantRegistry interface {
	Create(ctx context.Context, n registry.NewTenant) (string, error)
	Get(ctx context.Context, id string) (*registry.Tenant, error)
	Update(ctx context.Context, id string, p registry.Patch) error
	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context, id string) error
}

// PhysicalDB creates, drops, and renames physical databases.
type PhysicalDB interface {
	Create(ctx context.Context, name string) error
	Drop(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName, newName string) error
}

// MigrationRunner applies pending migrations to a tenant database.
type MigrationRunner interface {
	Apply(ctx context.Context, dbName string) error
}

// Seeder loads initial data into a tenant database.  Failures are
// non-fatal by policy.
type Seeder interface {
	Seed(ctx context.Context, dbName string) error
}

// SessionPool is the pool capability the service needs: priming new
// entries and dropping retired ones.
type SessionPool interface {
	Prime(key, dbName string)
	Close(key string)
}

// TenantDescriptor is the result of a successful provisioning run.
type TenantDescriptor struct {
	ID     string `json:"id"`
	FQDN   string `json:"fqdn"`
	DBName string `json:"db_name"`
}

// Service orchestrates tenant lifecycle workflows.
type Service struct {
	reg          TenantRegistry
	phys         PhysicalDB
	migrator     MigrationRunner
	seeder       Seeder
	pool         SessionPool
	seedOnCreate bool
}

// New wires a Service from its collaborators.  seeder may be nil when
// seeding is disabled by policy.
func New(reg TenantRegistry, phys PhysicalDB, migrator MigrationRunner, seeder Seeder, pool SessionPool, seedOnCreate bool) *Service {
	return &Service{
		reg:          reg,
		phys:         phys,
		migrator:     migrator,
		seeder:       seeder,
		pool:         pool,
		seedOnCreate: seedOnCreate,
	}
}

// Provision brings a new tenant database into existence.
func (s *Service) Provision(ctx context.Context, n registry.NewTenant) (*TenantDescriptor, error) {
	const op = "provision.Provision"

	// 1. Registry row first; no physical side effects yet on failure.
	id, err := s.reg.Create(ctx, n)
	if err != nil {
		metrics.ProvisionTotal.WithLabelValues("provision", "error").Inc()
		return nil, err
	}
	t, err := s.reg.Get(ctx, id)
	if err != nil {
		// The row already persisted; without compensation a transient
		// read failure here would leave a registered tenant whose
		// database was never created, and Resume cannot repair that.
		if perr := s.reg.Purge(ctx, id); perr != nil {
			zap.S().Errorw("compensation failed: registry row orphaned",
				"tenant", id, "err", perr)
		}
		metrics.ProvisionTotal.WithLabelValues("provision", "error").Inc()
		return nil, err
	}

	// 2. Physical database.  Compensate by purging the fresh registry
	// row: the state must never show a registered tenant with no
	// database.
	if err := s.phys.Create(ctx, t.DBName); err != nil {
		if perr := s.reg.Purge(ctx, id); perr != nil {
			zap.S().Errorw("compensation failed: registry row orphaned",
				"tenant", id, "err", perr)
		}
		metrics.ProvisionTotal.WithLabelValues("provision", "error").Inc()
		return nil, fault.Provisioning(op, id, StepCreateDatabase, err)
	}

	// 3. Migrations.  The tenant stays registered; the error carries the
	// step so Resume can pick up here.
	if err := s.migrator.Apply(ctx, t.DBName); err != nil {
		metrics.ProvisionTotal.WithLabelValues("provision", "error").Inc()
		return nil, fault.Provisioning(op, id, StepMigrate, err)
	}

	// 4. Seed, non-fatal by policy.
	s.seed(ctx, id, t.DBName)

	// 5. Prime the pool; the session itself opens lazily on first use.
	s.pool.Prime(id, t.DBName)

	metrics.ProvisionTotal.WithLabelValues("provision", "ok").Inc()
	zap.S().Infow("tenant provisioned", "tenant", id, "fqdn", t.FQDN, "db", t.DBName)
	return &TenantDescriptor{ID: id, FQDN: t.FQDN, DBName: t.DBName}, nil
}

// Resume retries the migrate + seed + prime tail of a provisioning run
// that failed after the physical database existed.
func (s *Service) Resume(ctx context.Context, id string) (*TenantDescriptor, error) {
	const op = "provision.Resume"

	t, err := s.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.migrator.Apply(ctx, t.DBName); err != nil {
		return nil, fault.Provisioning(op, id, StepMigrate, err)
	}
	s.seed(ctx, id, t.DBName)
	s.pool.Prime(id, t.DBName)

	zap.S().Infow("tenant provisioning resumed", "tenant", id, "db", t.DBName)
	return &TenantDescriptor{ID: id, FQDN: t.FQDN, DBName: t.DBName}, nil
}

// Deprovision retires a tenant.  The registry entry is removed before
// the physical drop, favouring "tenant not routable" over "live route
// to an orphaned database".
func (s *Service) Deprovision(ctx context.Context, id string) error {
	const op = "provision.Deprovision"

	t, err := s.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reg.Delete(ctx, id); err != nil {
		return err
	}

	// Close never fails the workflow; the pool logs underlying errors.
	s.pool.Close(id)

	if err := s.phys.Drop(ctx, t.DBName); err != nil {
		metrics.ProvisionTotal.WithLabelValues("deprovision", "error").Inc()
		return fault.Provisioning(op, id, StepDropDatabase, err)
	}

	metrics.ProvisionTotal.WithLabelValues("deprovision", "ok").Inc()
	zap.S().Infow("tenant deprovisioned", "tenant", id, "db", t.DBName)
	return nil
}

// Rename moves a tenant to a new physical database name.
func (s *Service) Rename(ctx context.Context, id, newName string) error {
	const op = "provision.Rename"
	if newName == "" {
		return fault.Invalid(op, "new database name is empty")
	}

	t, err := s.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	oldName := t.DBName
	if oldName == newName {
		return nil
	}

	if err := s.reg.Update(ctx, id, registry.Patch{DBName: &newName}); err != nil {
		return err
	}
	if err := s.phys.Rename(ctx, oldName, newName); err != nil {
		// Revert the registry field, else registry and physical state
		// diverge.
		if rerr := s.reg.Update(ctx, id, registry.Patch{DBName: &oldName}); rerr != nil {
			zap.S().Errorw("compensation failed: registry db_name diverged",
				"tenant", id, "want", oldName, "err", rerr)
		}
		metrics.ProvisionTotal.WithLabelValues("rename", "error").Inc()
		return fault.Provisioning(op, id, StepRenameDatabase, err)
	}

	// Force re-resolution against the new name on next use.
	s.pool.Close(id)

	metrics.ProvisionTotal.WithLabelValues("rename", "ok").Inc()
	zap.S().Infow("tenant database renamed", "tenant", id, "from", oldName, "to", newName)
	return nil
}

// seed runs the seeder when policy enables it, reporting but never
// propagating failures.
func (s *Service) seed(ctx context.Context, id, dbName string) {
	if !s.seedOnCreate || s.seeder == nil {
		return
	}
	if err := s.seeder.Seed(ctx, dbName); err != nil {
		zap.S().Warnw("seed failed, tenant remains usable",
			"tenant", id, "db", dbName, "err", err)
	}
}
