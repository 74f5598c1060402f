// internal/provision/service_test.go
//
// Unit-tests for the provisioning workflows and their compensations.
//
// Context
// -------
// The service is exercised against in-memory fakes for every
// collaborator, with injectable failures per step.  The interesting
// assertions are about two-sided consistency: after any partial
// failure, the registry and the (fake) physical database set must agree
// with the documented policy.
//
// Run: go test ./internal/provision -v

package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/tenantd/internal/fault"
	"github.com/yanizio/tenantd/internal/registry"
)

//
// fakes
//

type fakeRegistry struct {
	rows      map[string]*registry.Tenant
	nextID    int
	createErr error
	getErr    error
	updateErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{rows: make(map[string]*registry.Tenant)}
}

func (f *fakeRegistry) Create(ctx context.Context, n registry.NewTenant) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if n.IsZero() {
		return "", fault.Invalid("fakeRegistry.Create", "tenant object is empty")
	}
	f.nextID++
	id := fmt.Sprintf("tenant-%d", f.nextID)
	dbName := n.DBName
	if dbName == "" {
		dbName = fmt.Sprintf("tenant_db%d", f.nextID)
	}
	f.rows[id] = &registry.Tenant{ID: id, FQDN: n.FQDN, DBName: dbName}
	return id, nil
}

func (f *fakeRegistry) Get(ctx context.Context, id string) (*registry.Tenant, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if t, ok := f.rows[id]; ok && t.DeletedAt == nil {
		cp := *t
		return &cp, nil
	}
	return nil, fault.NotFound("fakeRegistry.Get", "tenant does not exist")
}

func (f *fakeRegistry) Update(ctx context.Context, id string, p registry.Patch) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	t, ok := f.rows[id]
	if !ok {
		return fault.NotFound("fakeRegistry.Update", "tenant does not exist")
	}
	if p.DBName != nil {
		t.DBName = *p.DBName
	}
	if p.FQDN != nil {
		t.FQDN = *p.FQDN
	}
	return nil
}

func (f *fakeRegistry) Delete(ctx context.Context, id string) error {
	if _, ok := f.rows[id]; !ok {
		return fault.NotFound("fakeRegistry.Delete", "tenant does not exist")
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeRegistry) Purge(ctx context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

type fakePhysical struct {
	databases map[string]bool
	createErr error
	dropErr   error
	renameErr error
}

func newFakePhysical() *fakePhysical {
	return &fakePhysical{databases: make(map[string]bool)}
}

func (f *fakePhysical) Create(ctx context.Context, name string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.databases[name] = true
	return nil
}

func (f *fakePhysical) Drop(ctx context.Context, name string) error {
	if f.dropErr != nil {
		return f.dropErr
	}
	delete(f.databases, name)
	return nil
}

func (f *fakePhysical) Rename(ctx context.Context, oldName, newName string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	delete(f.databases, oldName)
	f.databases[newName] = true
	return nil
}

type fakeRunner struct {
	applied  []string
	applyErr error
}

func (f *fakeRunner) Apply(ctx context.Context, dbName string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, dbName)
	return nil
}

type fakeSeeder struct {
	seeded  []string
	seedErr error
}

func (f *fakeSeeder) Seed(ctx context.Context, dbName string) error {
	if f.seedErr != nil {
		return f.seedErr
	}
	f.seeded = append(f.seeded, dbName)
	return nil
}

type fakePool struct {
	primed map[string]string
	closed []string
}

func newFakePool() *fakePool { return &fakePool{primed: make(map[string]string)} }

func (f *fakePool) Prime(key, dbName string) { f.primed[key] = dbName }
func (f *fakePool) Close(key string)         { f.closed = append(f.closed, key) }

type fixture struct {
	reg    *fakeRegistry
	phys   *fakePhysical
	runner *fakeRunner
	seeder *fakeSeeder
	pool   *fakePool
	svc    *Service
}

func newFixture(seedOnCreate bool) *fixture {
	f := &fixture{
		reg:    newFakeRegistry(),
		phys:   newFakePhysical(),
		runner: &fakeRunner{},
		seeder: &fakeSeeder{},
		pool:   newFakePool(),
	}
	f.svc = New(f.reg, f.phys, f.runner, f.seeder, f.pool, seedOnCreate)
	return f
}

//
// Provision
//

func TestProvisionHappyPath(t *testing.T) {
	f := newFixture(true)

	desc, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, desc.ID)
	assert.Equal(t, "a.example.com", desc.FQDN)
	assert.NotEmpty(t, desc.DBName)

	assert.True(t, f.phys.databases[desc.DBName], "physical database missing")
	assert.Equal(t, []string{desc.DBName}, f.runner.applied)
	assert.Equal(t, []string{desc.DBName}, f.seeder.seeded)
	assert.Equal(t, desc.DBName, f.pool.primed[desc.ID])
}

func TestProvisionRegistryCreateFailsNoPhysicalSideEffects(t *testing.T) {
	f := newFixture(true)
	f.reg.createErr = fault.Conflict("registry.Create", "tenant already exists")

	_, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.Error(t, err)
	assert.Equal(t, fault.EConflict, fault.ErrorCode(err))
	assert.Empty(t, f.phys.databases)
	assert.Empty(t, f.runner.applied)
}

func TestProvisionReadBackFailurePurgesRegistry(t *testing.T) {
	f := newFixture(true)
	f.reg.getErr = &fault.Error{Code: fault.EUnavailable, Msg: "control DB hiccup"}

	_, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.Error(t, err)

	// The fresh row must not survive: no physical database exists, and
	// Resume cannot migrate a database that was never created.
	assert.Empty(t, f.reg.rows)
	assert.Empty(t, f.phys.databases)
	assert.Empty(t, f.runner.applied)
}

func TestProvisionPhysicalCreateFailsPurgesRegistry(t *testing.T) {
	f := newFixture(true)
	f.phys.createErr = errors.New("disk full")

	_, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.Error(t, err)
	assert.Equal(t, fault.EProvisioning, fault.ErrorCode(err))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StepCreateDatabase, fe.Step)
	assert.NotEmpty(t, fe.TenantID)

	// The registry must not claim a tenant whose database never existed.
	assert.Empty(t, f.reg.rows)
}

func TestProvisionMigrateFailsLeavesTenantRegistered(t *testing.T) {
	f := newFixture(true)
	f.runner.applyErr = errors.New("syntax error in 00002")

	_, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StepMigrate, fe.Step)
	require.NotEmpty(t, fe.TenantID)

	// Registered but not fully usable; Resume picks up from migration.
	_, gerr := f.reg.Get(context.Background(), fe.TenantID)
	assert.NoError(t, gerr)
	assert.Len(t, f.phys.databases, 1)
}

func TestProvisionSeedFailureIsNonFatal(t *testing.T) {
	f := newFixture(true)
	f.seeder.seedErr = &fault.Error{Code: fault.ESeed, Msg: "bad seed row"}

	desc, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)
	assert.Equal(t, desc.DBName, f.pool.primed[desc.ID], "prime must still run after a seed failure")
}

func TestProvisionSeedSkippedWhenDisabled(t *testing.T) {
	f := newFixture(false)

	_, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)
	assert.Empty(t, f.seeder.seeded)
}

func TestResumeRetriesMigrationTail(t *testing.T) {
	f := newFixture(true)
	f.runner.applyErr = errors.New("transient")

	_, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.Error(t, err)
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)

	f.runner.applyErr = nil
	desc, err := f.svc.Resume(context.Background(), fe.TenantID)
	require.NoError(t, err)
	assert.Equal(t, []string{desc.DBName}, f.runner.applied)
	assert.Equal(t, desc.DBName, f.pool.primed[desc.ID])
}

//
// Deprovision
//

func TestDeprovisionHappyPath(t *testing.T) {
	f := newFixture(false)
	desc, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Deprovision(context.Background(), desc.ID))
	assert.Empty(t, f.reg.rows)
	assert.Empty(t, f.phys.databases)
	assert.Contains(t, f.pool.closed, desc.ID)
}

func TestDeprovisionNotFound(t *testing.T) {
	f := newFixture(false)
	err := f.svc.Deprovision(context.Background(), "ghost")
	assert.Equal(t, fault.ENotFound, fault.ErrorCode(err))
}

func TestDeprovisionDropFailureLeavesRegistryRemoved(t *testing.T) {
	f := newFixture(false)
	desc, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)

	f.phys.dropErr = errors.New("database is being accessed by other users")
	err = f.svc.Deprovision(context.Background(), desc.ID)
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StepDropDatabase, fe.Step)

	// Intentional policy: no live route to an orphaned database.
	assert.Empty(t, f.reg.rows)
	assert.True(t, f.phys.databases[desc.DBName], "database should await out-of-band cleanup")
}

//
// Rename
//

func TestRenameHappyPath(t *testing.T) {
	f := newFixture(false)
	desc, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Rename(context.Background(), desc.ID, "tenant_renamed"))

	t2, err := f.reg.Get(context.Background(), desc.ID)
	require.NoError(t, err)
	assert.Equal(t, "tenant_renamed", t2.DBName)
	assert.True(t, f.phys.databases["tenant_renamed"])
	assert.False(t, f.phys.databases[desc.DBName])
	assert.Contains(t, f.pool.closed, desc.ID)
}

func TestRenamePhysicalFailureRevertsRegistry(t *testing.T) {
	f := newFixture(false)
	desc, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)

	f.phys.renameErr = errors.New("database is being accessed by other users")
	err = f.svc.Rename(context.Background(), desc.ID, "tenant_renamed")
	require.Error(t, err)

	t2, gerr := f.reg.Get(context.Background(), desc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, desc.DBName, t2.DBName, "registry must be reverted to the old name")
}

func TestRenameSameNameIsNoop(t *testing.T) {
	f := newFixture(false)
	desc, err := f.svc.Provision(context.Background(), registry.NewTenant{FQDN: "a.example.com"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Rename(context.Background(), desc.ID, desc.DBName))
	assert.Empty(t, f.pool.closed)
}

func TestRenameEmptyNameInvalid(t *testing.T) {
	f := newFixture(false)
	err := f.svc.Rename(context.Background(), "tenant-1", "")
	assert.Equal(t, fault.EInvalid, fault.ErrorCode(err))
}
