// internal/server/data.go
//
// Generic data endpoints over the scoped repository.
//
// Context
// -------
// Every route resolves the pool key from the URL ({id} is a tenant id,
// or "default" for the control database), hands the session and the
// model name to the repository, and encodes the result.  The audit
// policy lives inside the repository; these handlers add nothing to it.
//
// Routes (mounted under /tenants/{id}/data by Handler)
// ----------------------------------------------------
//
//	GET    /{model}           – FindAll; query params form the filter
//	POST   /{model}           – Add; body is one record or an array
//	GET    /{model}/{pk}      – FindByID
//	PATCH  /{model}           – Update; body {"filter":…, "patch":…}
//	DELETE /{model}           – Remove; body {"filter":…}
//	POST   /{model}/truncate  – Truncate
//
// Notes
// -----
//   - Execute stays a library-level escape hatch; raw SQL over HTTP is
//     deliberately not exposed.
//   - Oxford commas, two spaces after periods.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantd/internal/fault"
	"github.com/yanizio/tenantd/internal/repo"
)

// session resolves the pool key named in the URL.
func (s *Server) session(r *http.Request) (*sqlx.DB, error) {
	return s.pool.Resolve(r.Context(), chi.URLParam(r, "id"))
}

func (s *Server) findRecords(w http.ResponseWriter, r *http.Request) {
	db, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := repo.Filter{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			filter[k] = vs[0]
		}
	}

	records, err := s.store.FindAll(r.Context(), db, chi.URLParam(r, "model"), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []repo.Values{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) findRecordByID(w http.ResponseWriter, r *http.Request) {
	db, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.store.FindByID(r.Context(), db, chi.URLParam(r, "model"), chi.URLParam(r, "pk"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) addRecords(w http.ResponseWriter, r *http.Request) {
	const op = "server.addRecords"
	db, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, fault.Invalid(op, "malformed JSON body"))
		return
	}

	// A single record or an array of records.
	var records []repo.Values
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &records); err != nil {
			writeError(w, fault.Invalid(op, "malformed record array"))
			return
		}
	} else {
		var one repo.Values
		if err := json.Unmarshal(raw, &one); err != nil {
			writeError(w, fault.Invalid(op, "malformed record"))
			return
		}
		records = append(records, one)
	}

	created, err := s.store.Add(r.Context(), db, chi.URLParam(r, "model"), records...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type updateRequest struct {
	Filter repo.Filter `json:"filter"`
	Patch  repo.Values `json:"patch"`
}

func (s *Server) updateRecords(w http.ResponseWriter, r *http.Request) {
	db, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("server.updateRecords", "malformed JSON body"))
		return
	}
	n, err := s.store.Update(r.Context(), db, chi.URLParam(r, "model"), req.Filter, req.Patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

type removeRequest struct {
	Filter repo.Filter `json:"filter"`
}

func (s *Server) removeRecords(w http.ResponseWriter, r *http.Request) {
	db, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Invalid("server.removeRecords", "malformed JSON body"))
		return
	}
	n, err := s.store.Remove(r.Context(), db, chi.URLParam(r, "model"), req.Filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (s *Server) truncateRecords(w http.ResponseWriter, r *http.Request) {
	db, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := s.store.Truncate(r.Context(), db, chi.URLParam(r, "model"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"destroyed": n})
}
