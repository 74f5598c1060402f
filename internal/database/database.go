// Package database centralises sqlx connection helpers.  The driver is
// lib/pq; tenant DDL (CREATE DATABASE, DROP DATABASE, ALTER DATABASE
// ... RENAME TO) relies on Postgres semantics.
//
// Public entry points:
//
//	Open(ctx, desc)                  – quick helper with conservative pool sizes.
//	OpenWithOptions(ctx, desc, opts) – fine-grained control.
//	Factory                          – the session-opening capability consumed
//	                                   by the pool; stubbed in tests.
//
// Both helpers Ping the database before returning so callers can fail
// fast during bootstrap.  Callers should Close() the returned *sqlx.DB
// when no longer needed.
package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/yanizio/tenantd/internal/fault"
)

// Options tunes one connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions suits the process-wide control pool.
var DefaultOptions = Options{
	MaxOpenConns:    15,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
}

// TenantOptions keeps per-tenant resource usage small.
var TenantOptions = Options{
	MaxOpenConns:    5,
	MaxIdleConns:    2,
	ConnMaxLifetime: 30 * time.Minute,
}

// Factory opens a session for a descriptor.  The pool depends on this
// interface so tests can count and stub opens.
type Factory interface {
	Open(ctx context.Context, desc Descriptor) (*sqlx.DB, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, desc Descriptor) (*sqlx.DB, error)

func (f FactoryFunc) Open(ctx context.Context, desc Descriptor) (*sqlx.DB, error) {
	return f(ctx, desc)
}

// Open returns a *sqlx.DB with DefaultOptions.
func Open(ctx context.Context, desc Descriptor) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, desc, DefaultOptions)
}

// OpenWithOptions lets callers tune pool sizes per connection.  Used by
// the pool with TenantOptions for per-tenant sessions.
func OpenWithOptions(ctx context.Context, desc Descriptor, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", desc.DSN())
	if err != nil {
		return nil, fault.Unavailable("database.Open", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fault.Unavailable("database.Open", err)
	}
	return db, nil
}

// TenantFactory is the production Factory: a plain dial with
// TenantOptions.
func TenantFactory() Factory {
	return FactoryFunc(func(ctx context.Context, desc Descriptor) (*sqlx.DB, error) {
		return OpenWithOptions(ctx, desc, TenantOptions)
	})
}
