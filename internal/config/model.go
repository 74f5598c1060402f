// internal/config/model.go
//
// Typed configuration model for tenantd.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                           – dotenv values,
//   • `conf/global.yaml`                        – primary static file,
//   • `TENANTD_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* validation, so the model never
// stores Vault URIs—only plain strings.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section
//

// HTTP holds admin-API server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
}

//
// Database section
//

// Database holds the control-database endpoint.  The password may be a
// `vault:` URI resolved at load time; it never appears in logs.
// SSLMode defaults to "disable" when omitted.
type Database struct {
	Scheme   string `koanf:"scheme"   validate:"required,oneof=postgres"`
	Host     string `koanf:"host"     validate:"required"`
	Port     int    `koanf:"port"     validate:"required,gt=0,lte=65535"`
	Username string `koanf:"username" validate:"required"`
	Password string `koanf:"password" validate:"required"`
	Name     string `koanf:"name"     validate:"required"`
	SSLMode  string `koanf:"sslmode"  validate:"omitempty,oneof=disable require verify-ca verify-full"`
}

//
// Pool section
//

// Pool tunes the session pool and hostname resolution.
type Pool struct {
	DefaultHostname string        `koanf:"default_hostname"`
	IdleTTL         time.Duration `koanf:"idle_ttl"`
	MaxEntries      int           `koanf:"max_entries"`
}

//
// Provision section
//

// Provision points at the migration and seed sources for tenant
// databases and sets the seed-on-create policy.
type Provision struct {
	MigrationsDir string `koanf:"migrations_dir" validate:"required"`
	SeedsDir      string `koanf:"seeds_dir"`
	SeedOnCreate  bool   `koanf:"seed_on_create"`
}

//
// Audit section
//

// Audit toggles mutation auditing in tenant databases.
type Audit struct {
	Enabled bool `koanf:"enabled"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or TENANTD_ROOT override) so later code
// can build absolute file paths.
type Paths struct {
	Root string // TENANTD_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP      HTTP      `koanf:"http"`
	Database  Database  `koanf:"database"`
	Pool      Pool      `koanf:"pool"`
	Provision Provision `koanf:"provision"`
	Audit     Audit     `koanf:"audit"`
	Paths     Paths     `koanf:"-"` // not loaded from config files
}
