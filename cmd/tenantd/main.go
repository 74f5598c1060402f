// cmd/tenantd/main.go
//
// tenantd – control-plane entry point.
//
// Startup life-cycle
// ------------------
//
//  1. Load configuration (conf/global.yaml, TENANTD_ env overlay, vault:
//     secret resolution).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Open the control database and log live-tenant count.
//
//  4. Build registry, session pool, and provisioning service.
//
//  5. Serve the admin API wrapped in tenant-routing and security-header
//     middleware.
//
//  6. Drain on SIGINT/SIGTERM: stop HTTP, close every pooled session.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yanizio/tenantd/internal/audit"
	"github.com/yanizio/tenantd/internal/config"
	"github.com/yanizio/tenantd/internal/database"
	"github.com/yanizio/tenantd/internal/logger"
	"github.com/yanizio/tenantd/internal/middleware"
	"github.com/yanizio/tenantd/internal/pool"
	"github.com/yanizio/tenantd/internal/provision"
	"github.com/yanizio/tenantd/internal/registry"
	"github.com/yanizio/tenantd/internal/repo"
	"github.com/yanizio/tenantd/internal/server"
)

const shutdownGrace = 10 * time.Second

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.Paths.Root, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Control DB connect ──────────────────────────────────────────
	//
	base := database.Descriptor{
		Scheme:   cfg.Database.Scheme,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}
	zlog.Infow("connecting to control DB", "target", base.Redacted())
	controlDB, err := database.Open(ctx, base)
	if err != nil {
		zlog.Fatalw("connect control DB", "err", err)
	}
	defer controlDB.Close()

	// Log live-tenant count as an early sanity check.
	var live int
	_ = controlDB.Get(&live, `
	    SELECT COUNT(*) FROM hostnames
	    WHERE deleted_at IS NULL`)
	zlog.Infow("control DB online", "live_tenants", live)

	//
	// ── 2.  Registry + session pool (lazy tenant sessions) ─────────────
	//
	reg := registry.New(controlDB)

	sessions := pool.New(base, database.TenantFactory(), reg, pool.Options{
		DefaultHostname: cfg.Pool.DefaultHostname,
		IdleTTL:         cfg.Pool.IdleTTL,
		MaxEntries:      cfg.Pool.MaxEntries,
	})
	defer sessions.CloseAll()

	//
	// ── 3.  Provisioning service ────────────────────────────────────────
	//
	migrationsDir := cfg.Provision.MigrationsDir
	if !filepath.IsAbs(migrationsDir) {
		migrationsDir = filepath.Join(cfg.Paths.Root, migrationsDir)
	}

	// The interface stays nil when seeding is unconfigured, so the
	// service skips the step entirely.
	var seeder provision.Seeder
	if cfg.Provision.SeedsDir != "" {
		seedsDir := cfg.Provision.SeedsDir
		if !filepath.IsAbs(seedsDir) {
			seedsDir = filepath.Join(cfg.Paths.Root, seedsDir)
		}
		seeder = provision.NewSQLSeeder(base, seedsDir)
	}

	svc := provision.New(
		reg,
		provision.NewAdmin(controlDB),
		provision.NewGooseRunner(base, migrationsDir),
		seeder,
		sessions,
		cfg.Provision.SeedOnCreate,
	)

	//
	// ── 4.  Admin API with routing + security middleware ───────────────
	//
	recorder := audit.NewRecorder(cfg.Audit.Enabled)
	store := repo.New(recorder)

	api := server.New(reg, svc, sessions, store)
	handler := middleware.Security(middleware.Routing(reg, api.Handler()))

	httpSrv := server.NewHTTP(cfg.HTTP.ListenAddr, handler)
	go func() {
		zlog.Infow("listening", "addr", cfg.HTTP.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatalw("http server", "err", err)
		}
	}()

	//
	// ── 5.  Drain on signal ─────────────────────────────────────────────
	//
	<-ctx.Done()
	zlog.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zlog.Warnw("http shutdown", "err", err)
	}
	sessions.CloseAll()
}
