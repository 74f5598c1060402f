// internal/repo/models.go
//
// Static model registry.
//
// Context
// -------
// The repository operates on named models, and the set of known models
// is sealed at compile time: each entry maps a model name to its table
// and primary-key column.  Callers that pass an unknown name get
// EInvalid before any SQL is built; there is no directory scanning or
// string-convention discovery at runtime.
package repo

import (
	"sort"

	"github.com/yanizio/tenantd/internal/fault"
)

// Model describes one entity kind the repository can operate on.
type Model struct {
	Name       string
	Table      string
	PrimaryKey string
}

// The sealed model set.  Control-database models and tenant-database
// models share one namespace; the caller chooses the target session.
var models = map[string]Model{
	"hostname": {Name: "hostname", Table: "hostnames", PrimaryKey: "id"},
	"website":  {Name: "website", Table: "websites", PrimaryKey: "id"},
	"audit":    {Name: "audit", Table: "audits", PrimaryKey: "id"},
}

// Lookup resolves a model name.
func Lookup(name string) (Model, error) {
	m, ok := models[name]
	if !ok {
		return Model{}, fault.Invalid("repo.Lookup", "unknown model %q", name)
	}
	return m, nil
}

// Names returns the sealed model set, sorted, for diagnostics.
func Names() []string {
	out := make([]string, 0, len(models))
	for n := range models {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
