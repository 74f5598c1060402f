// internal/pool/pool.go
//
// Session pool and tenant resolver.
//
// Context
// -------
// The pool translates a tenant key (tenant id, or the `default` sentinel
// for the control database) into a live *sqlx.DB session, minimizing
// connection churn.  Sessions are opened lazily through a
// database.Factory on first resolution, cached in a sync.Map, and torn
// down on explicit Close (tenant deletion), Reset (operator reconnect),
// or by the background evictor (idle TTL and LRU pressure).
//
// Concurrent resolutions of the *same* key are collapsed through a
// singleflight.Group so exactly one session is opened; resolutions for
// different keys proceed fully in parallel.
//
// Notes
// -----
//   - Tenant descriptors are derived from the control descriptor by
//     substituting only the database name, so one operator credential
//     covers the fleet.
//   - Close logs but never fails when the underlying session close
//     errors; the entry is evicted regardless.
//   - Oxford commas, two spaces after periods.
package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantd/internal/database"
	"github.com/yanizio/tenantd/internal/fault"
	"github.com/yanizio/tenantd/internal/metrics"
)

// DefaultKey is the sentinel pool key for the control database.
const DefaultKey = "default"

// Static defaults.  Override via Options.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 100
	EvictInterval = 5 * time.Minute
)

// Directory is the registry capability the pool needs: key and hostname
// resolution against the control database.  *registry.Registry satisfies
// it.
type Directory interface {
	DBName(ctx context.Context, id string) (string, error)
	IDByFQDN(ctx context.Context, fqdn string) (string, error)
}

// Options tunes pool behaviour.
type Options struct {
	// DefaultHostname maps directly to DefaultKey without a registry
	// lookup (bootstrap case: the control database holds the registry
	// table that would otherwise be queried).
	DefaultHostname string
	IdleTTL         time.Duration
	MaxEntries      int
}

//
// Pool entry
//

type entry struct {
	db       *sqlx.DB
	desc     database.Descriptor
	lastSeen int64 // UnixNano
}

// Pool lazily opens sessions, stores them in a sync.Map, and evicts
// them on idle TTL or LRU pressure.
type Pool struct {
	base    database.Descriptor
	factory database.Factory
	dir     Directory
	opts    Options

	sfg    singleflight.Group
	m      sync.Map // key → *entry
	primed sync.Map // key → db_name, set by Prime before first open

	evictTicker *time.Ticker
	quit        chan struct{} // closed by CloseAll; evictLoop exits on it
	loopDone    chan struct{} // closed by evictLoop on exit
	closeOnce   sync.Once
}

// New constructs a Pool and starts the background evictor.
func New(base database.Descriptor, factory database.Factory, dir Directory, opts Options) *Pool {
	if opts.IdleTTL == 0 {
		opts.IdleTTL = IdleTTL
	}
	if opts.MaxEntries == 0 {
		opts.MaxEntries = MaxEntries
	}
	p := &Pool{
		base:     base,
		factory:  factory,
		dir:      dir,
		opts:     opts,
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	p.evictTicker = time.NewTicker(EvictInterval)
	go p.evictLoop()
	return p
}

// Resolve returns the session for key, opening it on demand.  Exactly
// one open happens per key no matter how many goroutines race here.
func (p *Pool) Resolve(ctx context.Context, key string) (*sqlx.DB, error) {
	const op = "pool.Resolve"
	if key == "" {
		return nil, fault.Invalid(op, "pool key is empty")
	}

	if v, ok := p.m.Load(key); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.db, nil
	}

	v, err, _ := p.sfg.Do(key, func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := p.m.Load(key); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.db, nil
		}

		desc, err := p.descriptorFor(ctx, key)
		if err != nil {
			return nil, err
		}

		db, err := p.factory.Open(ctx, desc)
		if err != nil {
			metrics.SessionOpenErrorsTotal.Inc()
			var fe *fault.Error
			if !errors.As(err, &fe) {
				err = fault.Unavailable(op, err)
			}
			return nil, err
		}

		ent := &entry{
			db:       db,
			desc:     desc,
			lastSeen: time.Now().UnixNano(),
		}
		p.m.Store(key, ent)
		metrics.SessionOpenTotal.Inc()
		metrics.ActiveSessions.Inc()
		zap.S().Infow("session opened", "key", key, "target", desc.Redacted())
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sqlx.DB), nil
}

// ResolveHostname looks up the tenant by fqdn (case-insensitive exact
// match) and delegates to Resolve.  The configured default hostname
// short-circuits to the control session.
func (p *Pool) ResolveHostname(ctx context.Context, hostname string) (*sqlx.DB, error) {
	const op = "pool.ResolveHostname"
	if hostname == "" {
		return nil, fault.Invalid(op, "hostname is empty")
	}
	if p.opts.DefaultHostname != "" && strings.EqualFold(hostname, p.opts.DefaultHostname) {
		return p.Resolve(ctx, DefaultKey)
	}
	id, err := p.dir.IDByFQDN(ctx, hostname)
	if err != nil {
		return nil, err
	}
	return p.Resolve(ctx, id)
}

// ConnectionString renders the DSN the pool would dial for key, without
// opening a session.  The result contains the cleartext password;
// callers must never log it.
func (p *Pool) ConnectionString(ctx context.Context, key string) (string, error) {
	const op = "pool.ConnectionString"
	if key == "" {
		return "", fault.Invalid(op, "pool key is empty")
	}
	desc, err := p.descriptorFor(ctx, key)
	if err != nil {
		return "", err
	}
	return desc.DSN(), nil
}

// Prime records the physical database name for a key ahead of its first
// resolution, so the open skips the registry round trip.  Provisioning
// calls this as its final step; the session itself stays lazy.
func (p *Pool) Prime(key, dbName string) {
	if key == "" || dbName == "" {
		return
	}
	p.primed.Store(key, dbName)
}

// Close evicts one entry and closes its session.  A no-op when the key
// is absent.
func (p *Pool) Close(key string) {
	v, ok := p.m.LoadAndDelete(key)
	if !ok {
		p.primed.Delete(key)
		return
	}
	ent := v.(*entry)
	if err := ent.db.Close(); err != nil {
		zap.S().Warnw("session close failed", "key", key, "err", err)
	}
	p.primed.Delete(key)
	metrics.ActiveSessions.Dec()
	zap.S().Infow("session closed", "key", key)
}

// Reset drops every cached entry so the next resolution reconnects.
// Used by operators after credential or topology changes.
func (p *Pool) Reset() {
	p.m.Range(func(key, _ any) bool {
		p.Close(key.(string))
		return true
	})
}

// CloseAll closes every open session and stops the evictor goroutine.
// Used at shutdown; safe to call more than once.
func (p *Pool) CloseAll() {
	p.closeOnce.Do(func() {
		p.evictTicker.Stop()
		close(p.quit)
	})
	p.Reset()
}

//
// helpers
//

// descriptorFor builds the connection descriptor for a key: the control
// descriptor itself for DefaultKey, otherwise the control credentials
// with only the database name substituted.
func (p *Pool) descriptorFor(ctx context.Context, key string) (database.Descriptor, error) {
	if key == DefaultKey {
		return p.base, nil
	}
	if v, ok := p.primed.Load(key); ok {
		return p.base.WithDatabase(v.(string)), nil
	}
	dbName, err := p.dir.DBName(ctx, key)
	if err != nil {
		return database.Descriptor{}, err
	}
	return p.base.WithDatabase(dbName), nil
}
