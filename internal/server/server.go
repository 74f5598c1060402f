// internal/server/server.go
//
// Admin HTTP API.
//
// Context
// -------
// A thin chi router over the control-plane services.  Handlers decode
// JSON, call one service method, and encode the result; no business
// logic lives here.  Collaborators are consumed as interfaces so tests
// can drive the full HTTP surface with fakes.
//
// Routes
// ------
//
//	GET    /healthz              – liveness probe
//	GET    /metrics              – Prometheus exposition
//	GET    /tenants              – list (optional ?fqdn= substring filter)
//	POST   /tenants              – provision a new tenant
//	GET    /tenants/{id}         – fetch one tenant
//	PATCH  /tenants/{id}         – update routing fields
//	DELETE /tenants/{id}         – deprovision
//	POST   /tenants/{id}/rename  – move to a new physical database name
//	POST   /tenants/{id}/resume  – retry a failed provisioning tail
//	POST   /pool/reset           – drop every cached session
//
// Generic data routes over the scoped repository are mounted under
// /tenants/{id}/data/{model}; see data.go.
//
// Notes
// -----
//   - Errors map fault codes to HTTP statuses; EProvisioning responses
//     carry the tenant id and failed step for the Resume endpoint.
//   - Oxford commas, two spaces after periods.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanizio/tenantd/internal/fault"
	"github.com/yanizio/tenantd/internal/provision"
	"github.com/yanizio/tenantd/internal/registry"
	"github.com/yanizio/tenantd/internal/repo"
)

// TenantDirectory is the registry capability the API needs.
// *registry.Registry satisfies it.
type TenantDirectory interface {
	Get(ctx context.Context, id string) (*registry.Tenant, error)
	All(ctx context.Context) ([]registry.Tenant, error)
	List(ctx context.Context, fqdnPattern string) ([]registry.Tenant, error)
	Update(ctx context.Context, id string, p registry.Patch) error
}

// Provisioner is the lifecycle capability.  *provision.Service
// satisfies it.
type Provisioner interface {
	Provision(ctx context.Context, n registry.NewTenant) (*provision.TenantDescriptor, error)
	Resume(ctx context.Context, id string) (*provision.TenantDescriptor, error)
	Deprovision(ctx context.Context, id string) error
	Rename(ctx context.Context, id, newName string) error
}

// SessionPool is the pool capability the API needs: session resolution
// for the data endpoints, and Reset for operators.  *pool.Pool
// satisfies it.
type SessionPool interface {
	Resolve(ctx context.Context, key string) (*sqlx.DB, error)
	Reset()
}

// Repository is the generic-CRUD capability behind the data endpoints.
// *repo.Repo satisfies it.
type Repository interface {
	FindByID(ctx context.Context, db *sqlx.DB, model string, pk any) (repo.Values, error)
	FindAll(ctx context.Context, db *sqlx.DB, model string, filter repo.Filter) ([]repo.Values, error)
	Add(ctx context.Context, db *sqlx.DB, model string, records ...repo.Values) ([]repo.Values, error)
	Update(ctx context.Context, db *sqlx.DB, model string, filter repo.Filter, patch repo.Values) (int64, error)
	Remove(ctx context.Context, db *sqlx.DB, model string, filter repo.Filter) (int64, error)
	Truncate(ctx context.Context, db *sqlx.DB, model string) (int64, error)
}

// Server carries the admin API's collaborators.
type Server struct {
	dir   TenantDirectory
	prov  Provisioner
	pool  SessionPool
	store Repository
}

// New wires the admin API.
func New(dir TenantDirectory, prov Provisioner, pool SessionPool, store Repository) *Server {
	return &Server{dir: dir, prov: prov, pool: pool, store: store}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", s.listTenants)
		r.Post("/", s.createTenant)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getTenant)
			r.Patch("/", s.patchTenant)
			r.Delete("/", s.deleteTenant)
			r.Post("/rename", s.renameTenant)
			r.Post("/resume", s.resumeTenant)

			r.Route("/data/{model}", func(r chi.Router) {
				r.Get("/", s.findRecords)
				r.Post("/", s.addRecords)
				r.Patch("/", s.updateRecords)
				r.Delete("/", s.removeRecords)
				r.Get("/{pk}", s.findRecordByID)
				r.Post("/truncate", s.truncateRecords)
			})
		})
	})

	r.Post("/pool/reset", func(w http.ResponseWriter, _ *http.Request) {
		s.pool.Reset()
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

//
// handlers
//

type createRequest struct {
	FQDN                  string     `json:"fqdn"`
	DBName                string     `json:"db_name"`
	RedirectTo            *string    `json:"redirect_to"`
	ForceHTTPS            bool       `json:"force_https"`
	UnderMaintenanceSince *time.Time `json:"under_maintenance_since"`
}

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("server.createTenant", "malformed JSON body"))
		return
	}

	desc, err := s.prov.Provision(r.Context(), registry.NewTenant{
		FQDN:                  req.FQDN,
		DBName:                req.DBName,
		RedirectTo:            req.RedirectTo,
		ForceHTTPS:            req.ForceHTTPS,
		UnderMaintenanceSince: req.UnderMaintenanceSince,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, desc)
}

func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	var (
		tenants []registry.Tenant
		err     error
	)
	if pattern := r.URL.Query().Get("fqdn"); pattern != "" {
		tenants, err = s.dir.List(r.Context(), pattern)
	} else {
		tenants, err = s.dir.All(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if tenants == nil {
		tenants = []registry.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := s.dir.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// patchRequest carries the routing fields an operator may change.
// db_name is deliberately absent: renames go through the provisioning
// workflow so the physical database moves with the registry row.
type patchRequest struct {
	FQDN             *string `json:"fqdn"`
	RedirectTo       *string `json:"redirect_to"`
	ForceHTTPS       *bool   `json:"force_https"`
	UnderMaintenance *bool   `json:"under_maintenance"`
}

func (s *Server) patchTenant(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("server.patchTenant", "malformed JSON body"))
		return
	}

	p := registry.Patch{
		FQDN:       req.FQDN,
		RedirectTo: req.RedirectTo,
		ForceHTTPS: req.ForceHTTPS,
	}
	if req.UnderMaintenance != nil {
		if *req.UnderMaintenance {
			now := time.Now()
			p.UnderMaintenanceSince = &now
		} else {
			p.EndMaintenance = true
		}
	}

	id := chi.URLParam(r, "id")
	if err := s.dir.Update(r.Context(), id, p); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.dir.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := s.prov.Deprovision(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	DBName string `json:"db_name"`
}

func (s *Server) renameTenant(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("server.renameTenant", "malformed JSON body"))
		return
	}
	if err := s.prov.Rename(r.Context(), chi.URLParam(r, "id"), req.DBName); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resumeTenant(w http.ResponseWriter, r *http.Request) {
	desc, err := s.prov.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

//
// encoding helpers
//

type errorBody struct {
	Code     string `json:"code"`
	Error    string `json:"error"`
	TenantID string `json:"tenant_id,omitempty"`
	Step     string `json:"step,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: fault.ErrorCode(err), Error: err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body.TenantID = fe.TenantID
		body.Step = fe.Step
	}
	writeJSON(w, statusFor(body.Code), body)
}

func statusFor(code string) int {
	switch code {
	case fault.EInvalid:
		return http.StatusBadRequest
	case fault.ENotFound:
		return http.StatusNotFound
	case fault.EConflict:
		return http.StatusConflict
	case fault.EUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
