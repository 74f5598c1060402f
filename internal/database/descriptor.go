// internal/database/descriptor.go
//
// Connection descriptor.
//
// Context
// -------
// A Descriptor carries everything the session factory needs to dial one
// physical database.  The pool builds tenant descriptors from the control
// database's own credentials, substituting only the database name, so a
// single operator secret covers the whole fleet.
//
// Notes
// -----
//   - DSN() renders the full URL, including the password.  Never log it;
//     use Redacted() in log fields.
//   - Oxford commas, two spaces after periods.
package database

import (
	"fmt"
	"net/url"
)

// Descriptor identifies one physical database endpoint.
type Descriptor struct {
	Scheme   string // "postgres"
	Username string
	Password string
	Host     string
	Port     int
	Database string
	SSLMode  string // lib/pq sslmode; empty means "disable"
}

// WithDatabase returns a copy pointed at another database on the same
// server.  Used by the pool to derive tenant descriptors from the
// control descriptor.
func (d Descriptor) WithDatabase(name string) Descriptor {
	d.Database = name
	return d
}

// DSN renders the lib/pq connection URL.  Contains the cleartext
// password; callers must not log the result.
func (d Descriptor) DSN() string {
	u := url.URL{
		Scheme: d.Scheme,
		User:   url.UserPassword(d.Username, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	mode := d.SSLMode
	if mode == "" {
		mode = "disable"
	}
	q := u.Query()
	q.Set("sslmode", mode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted renders the URL with the password masked, safe for logs.
func (d Descriptor) Redacted() string {
	u := url.URL{
		Scheme: d.Scheme,
		User:   url.User(d.Username),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	return u.String()
}
