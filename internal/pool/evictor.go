// evictor.go houses the eviction loop for Pool.  Every EvictInterval it
// scans the map and removes:
//
//   - sessions idle longer than idleTTL
//   - least-recently-used sessions when map size exceeds maxEntries
//
// The control session (DefaultKey) is never evicted.  Each eviction
// event is logged and updates Prometheus counters.
package pool

import (
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantd/internal/metrics"
)

// evictLoop runs until CloseAll closes the quit channel.  Stopping the
// ticker alone would not end the loop: Stop never closes the ticker's
// channel.
func (p *Pool) evictLoop() {
	defer close(p.loopDone)
	for {
		select {
		case <-p.evictTicker.C:
			p.evictPass(time.Now())
		case <-p.quit:
			return
		}
	}
}

// evictPass runs one idle + LRU sweep.  Split from the loop so tests can
// drive it with a synthetic clock.
func (p *Pool) evictPass(now time.Time) {
	nowNano := now.UnixNano()
	var count int

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	p.m.Range(func(key, value any) bool {
		if key.(string) == DefaultKey {
			return true
		}
		count++
		ent := value.(*entry)
		idle := time.Duration(nowNano-atomic.LoadInt64(&ent.lastSeen)) * time.Nanosecond
		if idle > p.opts.IdleTTL {
			p.evict(key.(string), ent)
			zap.S().Infow("session evicted", "key", key, "idle", idle.Truncate(time.Second))
			count--
		}
		return true
	})

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if p.opts.MaxEntries > 0 && count > p.opts.MaxEntries {
		type kv struct {
			key string
			at  int64
		}
		var all []kv
		p.m.Range(func(key, value any) bool {
			if key.(string) == DefaultKey {
				return true
			}
			ent := value.(*entry)
			all = append(all, kv{key: key.(string), at: atomic.LoadInt64(&ent.lastSeen)})
			return true
		})
		sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
		for i := 0; i < count-p.opts.MaxEntries && i < len(all); i++ {
			if v, ok := p.m.Load(all[i].key); ok {
				p.evict(all[i].key, v.(*entry))
				zap.S().Infow("session evicted", "key", all[i].key, "reason", "lru pressure")
			}
		}
	}
}

func (p *Pool) evict(key string, ent *entry) {
	if _, ok := p.m.LoadAndDelete(key); !ok {
		return
	}
	if err := ent.db.Close(); err != nil {
		zap.S().Warnw("session close failed", "key", key, "err", err)
	}
	metrics.SessionEvictTotal.Inc()
	metrics.ActiveSessions.Dec()
}
