// internal/middleware/routing.go
//
// Tenant routing middleware.
//
// Context
// -------
// Resolves the request host against the tenant registry and applies the
// per-tenant routing columns before the request reaches a handler:
//
//   • redirect_to             – 308 Permanent Redirect to the configured
//     host, preserving the request URI
//   • force_https             – 308 http→https (skipped on localhost)
//   • under_maintenance_since – 503 with a Retry-After header
//
// Unknown hosts pass through untouched; downstream handlers decide what
// a miss means (usually 404).  Resolved tenants ride the request context
// so handlers can read them via TenantFrom without a second lookup.

// Package middleware holds small, composable HTTP wrappers.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/yanizio/tenantd/internal/registry"
)

// TenantLookup resolves a hostname to its registry row.
// *registry.Registry satisfies it.
type TenantLookup interface {
	ByFQDN(ctx context.Context, fqdn string) (*registry.Tenant, error)
}

type tenantKey struct{}

// TenantFrom returns the tenant Routing resolved for this request, or
// nil when the host was unknown.
func TenantFrom(ctx context.Context) *registry.Tenant {
	t, _ := ctx.Value(tenantKey{}).(*registry.Tenant)
	return t
}

// Routing wraps h with per-tenant request routing.
func Routing(lookup TenantLookup, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := stripPort(r.Host)

		t, err := lookup.ByFQDN(r.Context(), host)
		if err != nil {
			// Unknown host → keep normal flow (likely 404 later).
			h.ServeHTTP(w, r)
			return
		}

		// Host-level redirect wins over everything else, so a tenant in
		// maintenance can still point visitors somewhere useful.
		if t.RedirectTo != nil && *t.RedirectTo != "" && !strings.EqualFold(*t.RedirectTo, host) {
			target := scheme(r) + "://" + *t.RedirectTo + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}

		if t.ForceHTTPS && r.TLS == nil && host != "localhost" {
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}

		if t.UnderMaintenance() {
			w.Header().Set("Retry-After", "600")
			http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
			return
		}

		h.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, t)))
	})
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// stripPort removes the :port suffix from Host when present.
func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i != -1 {
		return h[:i]
	}
	return h
}
