// internal/server/server_test.go
//
// Admin API tests over httptest with fake collaborators.
//
// Run: go test ./internal/server -v

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantd/internal/fault"
	"github.com/yanizio/tenantd/internal/provision"
	"github.com/yanizio/tenantd/internal/registry"
)

//
// fakes
//

type fakeDir struct {
	tenants   map[string]*registry.Tenant
	lastPatch registry.Patch
	listCalls int
	allCalls  int
}

func (f *fakeDir) Get(_ context.Context, id string) (*registry.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, fault.NotFound("fake.Get", "tenant does not exist")
}

func (f *fakeDir) All(_ context.Context) ([]registry.Tenant, error) {
	f.allCalls++
	var out []registry.Tenant
	for _, t := range f.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeDir) List(_ context.Context, pattern string) ([]registry.Tenant, error) {
	f.listCalls++
	var out []registry.Tenant
	for _, t := range f.tenants {
		if strings.Contains(t.FQDN, pattern) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeDir) Update(_ context.Context, id string, p registry.Patch) error {
	if _, ok := f.tenants[id]; !ok {
		return fault.NotFound("fake.Update", "tenant does not exist")
	}
	f.lastPatch = p
	return nil
}

type fakeProv struct {
	provisionErr  error
	resumeErr     error
	deprovisioned []string
	renamed       [][2]string
	lastProvision registry.NewTenant
}

func (f *fakeProv) Provision(_ context.Context, n registry.NewTenant) (*provision.TenantDescriptor, error) {
	f.lastProvision = n
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	return &provision.TenantDescriptor{ID: "new-id", FQDN: n.FQDN, DBName: "tenant_new"}, nil
}

func (f *fakeProv) Resume(_ context.Context, id string) (*provision.TenantDescriptor, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return &provision.TenantDescriptor{ID: id, FQDN: "a.example.com", DBName: "tenant_a"}, nil
}

func (f *fakeProv) Deprovision(_ context.Context, id string) error {
	f.deprovisioned = append(f.deprovisioned, id)
	return nil
}

func (f *fakeProv) Rename(_ context.Context, id, newName string) error {
	f.renamed = append(f.renamed, [2]string{id, newName})
	return nil
}

type fakePool struct {
	resets     int
	resolved   []string
	resolveErr error
}

func (f *fakePool) Reset() { f.resets++ }

func (f *fakePool) Resolve(_ context.Context, key string) (*sqlx.DB, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	f.resolved = append(f.resolved, key)
	return nil, nil // the fake repository never touches the session
}

func fixture() (*fakeDir, *fakeProv, *fakePool, http.Handler) {
	dir := &fakeDir{tenants: map[string]*registry.Tenant{
		"a": {ID: "a", FQDN: "a.example.com", DBName: "tenant_a"},
	}}
	prov := &fakeProv{}
	pool := &fakePool{}
	return dir, prov, pool, New(dir, prov, pool, &fakeRepo{}).Handler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

//
// tests
//

func TestHealthz(t *testing.T) {
	_, _, _, h := fixture()
	rec := do(h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateTenant(t *testing.T) {
	_, prov, _, h := fixture()

	rec := do(h, http.MethodPost, "/tenants", `{"fqdn":"b.example.com","force_https":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var desc provision.TenantDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if desc.ID != "new-id" || desc.FQDN != "b.example.com" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if !prov.lastProvision.ForceHTTPS {
		t.Fatal("force_https not forwarded to provisioner")
	}
}

func TestCreateTenantConflict(t *testing.T) {
	_, prov, _, h := fixture()
	prov.provisionErr = fault.Conflict("registry.Create", "tenant already exists")

	rec := do(h, http.MethodPost, "/tenants", `{"fqdn":"a.example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCreateTenantMalformedBody(t *testing.T) {
	_, _, _, h := fixture()
	rec := do(h, http.MethodPost, "/tenants", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetTenantNotFound(t *testing.T) {
	_, _, _, h := fixture()
	rec := do(h, http.MethodGet, "/tenants/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListTenantsUsesFilterWhenGiven(t *testing.T) {
	dir, _, _, h := fixture()

	if rec := do(h, http.MethodGet, "/tenants?fqdn=example", ""); rec.Code != http.StatusOK {
		t.Fatalf("filtered list status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/tenants", ""); rec.Code != http.StatusOK {
		t.Fatalf("unfiltered list status = %d", rec.Code)
	}
	if dir.listCalls != 1 || dir.allCalls != 1 {
		t.Fatalf("listCalls = %d, allCalls = %d, want 1 and 1", dir.listCalls, dir.allCalls)
	}
}

func TestListTenantsEmptyIsJSONArray(t *testing.T) {
	dir, prov, pool, _ := fixture()
	dir.tenants = map[string]*registry.Tenant{}
	h := New(dir, prov, pool, &fakeRepo{}).Handler()

	rec := do(h, http.MethodGet, "/tenants", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestPatchTenantEndsMaintenance(t *testing.T) {
	dir, _, _, h := fixture()

	rec := do(h, http.MethodPatch, "/tenants/a", `{"under_maintenance":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if !dir.lastPatch.EndMaintenance {
		t.Fatalf("patch did not clear maintenance: %+v", dir.lastPatch)
	}
}

func TestPatchTenantStartsMaintenance(t *testing.T) {
	dir, _, _, h := fixture()

	rec := do(h, http.MethodPatch, "/tenants/a", `{"under_maintenance":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if dir.lastPatch.UnderMaintenanceSince == nil {
		t.Fatalf("patch did not set maintenance: %+v", dir.lastPatch)
	}
}

func TestDeleteTenant(t *testing.T) {
	_, prov, _, h := fixture()

	rec := do(h, http.MethodDelete, "/tenants/a", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(prov.deprovisioned) != 1 || prov.deprovisioned[0] != "a" {
		t.Fatalf("deprovisioned = %v", prov.deprovisioned)
	}
}

func TestRenameTenant(t *testing.T) {
	_, prov, _, h := fixture()

	rec := do(h, http.MethodPost, "/tenants/a/rename", `{"db_name":"tenant_moved"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(prov.renamed) != 1 || prov.renamed[0] != [2]string{"a", "tenant_moved"} {
		t.Fatalf("renamed = %v", prov.renamed)
	}
}

func TestResumeSurfacesProvisioningDetails(t *testing.T) {
	_, prov, _, h := fixture()
	prov.resumeErr = fault.Provisioning("provision.Resume", "a", "migrate", context.DeadlineExceeded)

	rec := do(h, http.MethodPost, "/tenants/a/resume", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body struct {
		Code     string `json:"code"`
		TenantID string `json:"tenant_id"`
		Step     string `json:"step"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TenantID != "a" || body.Step != "migrate" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestPoolReset(t *testing.T) {
	_, _, pool, h := fixture()

	rec := do(h, http.MethodPost, "/pool/reset", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if pool.resets != 1 {
		t.Fatalf("resets = %d, want 1", pool.resets)
	}
}
